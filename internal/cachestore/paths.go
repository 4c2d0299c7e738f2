package cachestore

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"path"
	"strings"
)

// RootPrefix is the storage prefix under which every generation lives
const RootPrefix = "caches/"

// generationPath returns the storage path of a generation's marker
func generationPath(name string) string {
	return path.Join("caches", name, "generation.json")
}

// generationPrefix returns the prefix shared by every object of a generation
func generationPrefix(name string) string {
	return RootPrefix + name + "/"
}

// entriesPrefix returns the prefix of a generation's entries
func entriesPrefix(name string) string {
	return generationPrefix(name) + "entries/"
}

// entryPath returns the storage path of the entry for a request URI
func entryPath(name, requestURI string) string {
	return entriesPrefix(name) + RequestKey(requestURI) + ".json"
}

// RequestKey derives the stable identity of a GET request for a request URI
func RequestKey(requestURI string) string {
	sum := sha256.Sum256([]byte(http.MethodGet + " " + requestURI))
	return hex.EncodeToString(sum[:])
}

// nameFromPath extracts the generation name from any object path under caches/
func nameFromPath(p string) (string, bool) {
	if !strings.HasPrefix(p, RootPrefix) {
		return "", false
	}
	rest := strings.TrimPrefix(p, RootPrefix)
	name, _, found := strings.Cut(rest, "/")
	if !found || name == "" {
		return "", false
	}
	return name, true
}
