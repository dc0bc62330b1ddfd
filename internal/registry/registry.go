package registry

import (
	"errors"
	"time"
)

// User is an account in the registry. PasswordHash is the one-way
// digest computed client-side; plaintext never reaches the server.
type User struct {
	Username     string
	PasswordHash string
	Email        string
	Website      string
	RepoLink     string
	Description  string
}

// Version is one uploaded revision of a package. Immutable once
// created; two versions of the same package never share a label.
type Version struct {
	Label     string
	Owner     string
	Content   []byte
	CreatedAt time.Time
}

// PackageInfo summarizes a package for queries and the browse API.
type PackageInfo struct {
	Name     string        `json:"name"`
	Owner    string        `json:"owner"`
	Versions []VersionInfo `json:"versions"`
}

// VersionInfo is the content-free view of a Version.
type VersionInfo struct {
	Label     string `json:"label"`
	Size      int64  `json:"size"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Result taxonomy of the store operations. NotFound and Conflict
// conditions are ordinary results reported to the caller, never fatal
// to the server.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrUserExists      = errors.New("user already exists")
	ErrOwnerMissing    = errors.New("owning user does not exist")
	ErrPackageNotFound = errors.New("package not found")
	ErrVersionNotFound = errors.New("version not found")
	ErrVersionExists   = errors.New("version already exists")
)
