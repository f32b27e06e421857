package classifier

import (
	"fmt"

	"github.com/queuebot/queuebot/platform"
)

type Field int

const (
	FieldModerator Field = iota
	FieldAction
	FieldDetails
	FieldDescription
	FieldTargetAuthor
	FieldTargetFullname
	FieldTargetPermalink
	FieldTargetTitle
	FieldTargetBody
)

var fieldNames = map[string]Field{
	"mod":              FieldModerator,
	"action":           FieldAction,
	"details":          FieldDetails,
	"description":      FieldDescription,
	"target_author":    FieldTargetAuthor,
	"target_fullname":  FieldTargetFullname,
	"target_permalink": FieldTargetPermalink,
	"target_title":     FieldTargetTitle,
	"target_body":      FieldTargetBody,
}

func ParseField(name string) (Field, error) {
	f, ok := fieldNames[name]
	if !ok {
		return 0, fmt.Errorf("unknown log entry field: %q", name)
	}
	return f, nil
}

func (f Field) String() string {
	for name, v := range fieldNames {
		if v == f {
			return name
		}
	}
	return fmt.Sprintf("Field(%d)", int(f))
}

// Absent values are the empty string
func (f Field) Get(e *platform.LogEntry) string {
	switch f {
	case FieldModerator:
		return e.Moderator
	case FieldAction:
		return e.Action
	case FieldDetails:
		return e.Details
	case FieldDescription:
		return e.Description
	case FieldTargetAuthor:
		return e.TargetAuthor
	case FieldTargetFullname:
		return e.TargetFullname
	case FieldTargetPermalink:
		return e.TargetPermalink
	case FieldTargetTitle:
		return e.TargetTitle
	case FieldTargetBody:
		return e.TargetBody
	}
	return ""
}
