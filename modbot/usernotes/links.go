package usernotes

import (
	"strings"
)

const linkBase = "https://www.reddit.com"

// Rewrites a permalink to its short token form:
//
//	https://www.reddit.com/comments/<s>/_/<c>   ->  l,<s>,<c>
//	https://www.reddit.com/comments/<s>         ->  l,<s>
//	https://www.reddit.com/message/messages/<m> ->  m,<m>
//
// Anything else is returned unchanged.
func CompactLink(link string) string {
	path, ok := strings.CutPrefix(link, linkBase+"/")
	if !ok {
		return link
	}
	parts := strings.Split(path, "/")

	switch {
	case len(parts) == 2 && parts[0] == "comments" && isID(parts[1]):
		return "l," + parts[1]
	case len(parts) == 4 && parts[0] == "comments" && parts[2] == "_" && isID(parts[1]) && isID(parts[3]):
		return "l," + parts[1] + "," + parts[3]
	case len(parts) == 3 && parts[0] == "message" && parts[1] == "messages" && isID(parts[2]):
		return "m," + parts[2]
	}
	return link
}

// Converts a community permalink (/r/<name>/comments/<s>[/<slug>[/<c>]]/, relative or absolute) to the
// community-independent form which CompactLink recognizes. Other relative paths are made absolute, and anything
// else is returned unchanged.
func CanonicalLink(permalink string) string {
	path, ok := strings.CutPrefix(permalink, linkBase)
	if !ok && !strings.HasPrefix(path, "/") {
		return permalink
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 4 && len(parts) <= 6 && parts[0] == "r" && parts[2] == "comments" && isID(parts[3]) {
		switch len(parts) {
		case 4, 5:
			return linkBase + "/comments/" + parts[3]
		case 6:
			if isID(parts[5]) {
				return linkBase + "/comments/" + parts[3] + "/_/" + parts[5]
			}
		}
	}
	return linkBase + path
}

// Reverses CompactLink. Strings which are not a well-formed token are returned unchanged.
func ExpandLink(token string) string {
	parts := strings.Split(token, ",")
	for _, p := range parts[1:] {
		if !isID(p) {
			return token
		}
	}
	switch {
	case parts[0] == "l" && len(parts) == 2:
		return linkBase + "/comments/" + parts[1]
	case parts[0] == "l" && len(parts) == 3:
		return linkBase + "/comments/" + parts[1] + "/_/" + parts[2]
	case parts[0] == "m" && len(parts) == 2:
		return linkBase + "/message/messages/" + parts[1]
	}
	return token
}

// platform ids are short lowercase base36 strings
func isID(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
