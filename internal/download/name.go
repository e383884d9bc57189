package download

import "github.com/gosimple/slug"

// PartialSuffix marks an in-progress archive inside a game directory.
const PartialSuffix = ".download"

// SafeName turns a display name into a directory name. Each fallback is
// tried in order when the name has no usable characters.
func SafeName(name string, fallbacks ...string) string {
	for _, candidate := range append([]string{name}, fallbacks...) {
		if s := slug.Make(candidate); s != "" {
			return s
		}
	}

	return "game"
}
