package client

import (
	"errors"
	"fmt"

	"github.com/cippm/cip/internal/protocol"
)

// Result taxonomy surfaced to the interactive caller. Conflicts are
// retryable by resubmitting corrected input; an auth failure after the
// allowed attempts aborts the whole operation.
var (
	ErrAuthFailed = errors.New("authentication failed")
	ErrConflict   = errors.New("conflict")
)

// RemoteError is a failure reported by the server as a result payload
// (package not found, version taken, and so on).
type RemoteError struct {
	Reason string
}

func (e *RemoteError) Error() string {
	return e.Reason
}

// AuthAttempts bounds consecutive password failures before an
// operation aborts.
const AuthAttempts = 3

// Install fetches the content of package/version. Version defaults to
// the most recent upload when label is RECENT. A textual reply is a
// server-side failure and comes back as a RemoteError.
func (c *Session) Install(pkg, version string) ([]byte, error) {
	reply, err := c.Do(&protocol.Message{Type: protocol.TypeInstall, Package: pkg, Version: version})
	if err != nil {
		return nil, err
	}
	if reply.Kind == protocol.KindContent {
		return reply.Content, nil
	}
	return nil, &RemoteError{Reason: reply.Status}
}

// Uninstall notifies the server; removal of local files is up to the
// caller.
func (c *Session) Uninstall(pkg string) error {
	reply, err := c.Do(&protocol.Message{Type: protocol.TypeUninstall, Package: pkg})
	if err != nil {
		return err
	}
	if reply.Status != protocol.StatusSuccess {
		return &RemoteError{Reason: reply.Status}
	}
	return nil
}

// VerifyUsername reports whether username is still free to claim.
func (c *Session) VerifyUsername(username string) (available bool, err error) {
	reply, err := c.Do(&protocol.Message{
		Type: protocol.TypeUser, Method: protocol.MethodVerify, Username: username,
	})
	if err != nil {
		return false, err
	}
	return reply.Status == protocol.StatusAvailable, nil
}

// PackageExists probes whether a package name is already in use.
func (c *Session) PackageExists(name string) (bool, error) {
	reply, err := c.Do(&protocol.Message{Type: protocol.TypePackage, Package: name})
	if err != nil {
		return false, err
	}
	return reply.OK, nil
}

// VersionExists probes whether the named package already carries the
// version label.
func (c *Session) VersionExists(pkg, label string) (bool, error) {
	reply, err := c.Do(&protocol.Message{Type: protocol.TypeVersion, Package: pkg, Version: label})
	if err != nil {
		return false, err
	}
	return reply.OK, nil
}

// Authenticate checks a password digest against the server.
func (c *Session) Authenticate(username, passwordHash string) (bool, error) {
	reply, err := c.Do(&protocol.Message{
		Type: protocol.TypeAuth, Username: username, Password: passwordHash,
	})
	if err != nil {
		return false, err
	}
	return reply.OK, nil
}

// NewUser is the input of CreateUser. Password is plaintext here and
// hashed before it crosses the wire.
type NewUser struct {
	Username    string
	Password    string
	Email       string
	Website     string
	RepoLink    string
	Description string
}

// CreateUser registers a new account. Returns ErrConflict when the
// username is taken, inviting the caller to resubmit with another.
func (c *Session) CreateUser(u NewUser) error {
	reply, err := c.Do(&protocol.Message{
		Type:        protocol.TypeUser,
		Method:      protocol.MethodCreate,
		Username:    u.Username,
		Password:    HashPassword(u.Password),
		Email:       u.Email,
		Website:     u.Website,
		RepoLink:    u.RepoLink,
		Description: u.Description,
	})
	if err != nil {
		return err
	}
	switch reply.Status {
	case protocol.StatusSuccess:
		return nil
	case "retry":
		return fmt.Errorf("%w: username %s is taken", ErrConflict, u.Username)
	default:
		return &RemoteError{Reason: reply.Status}
	}
}

// DeleteUser removes an account.
func (c *Session) DeleteUser(username string) error {
	reply, err := c.Do(&protocol.Message{
		Type: protocol.TypeUser, Method: protocol.MethodDelete, Username: username,
	})
	if err != nil {
		return err
	}
	if reply.Status != protocol.StatusSuccess {
		return &RemoteError{Reason: reply.Status}
	}
	return nil
}

// UserInfo returns the profile text of username.
func (c *Session) UserInfo(username string) (string, error) {
	reply, err := c.Do(&protocol.Message{
		Type: protocol.TypeUser, Method: protocol.MethodGet, Username: username,
	})
	if err != nil {
		return "", err
	}
	return reply.Status, nil
}

// Upload sends one package version. The server acknowledges explicitly;
// anything but success is a RemoteError.
func (c *Session) Upload(username, pkg, version string, content []byte) error {
	reply, err := c.Do(&protocol.Message{
		Type:     protocol.TypeUpload,
		Username: username,
		Package:  pkg,
		Version:  version,
		Content:  content,
	})
	if err != nil {
		return err
	}
	if reply.Status != protocol.StatusSuccess {
		return &RemoteError{Reason: reply.Status}
	}
	return nil
}

// UploadFlow drives the multi-round upload negotiation. The Ask
// callbacks belong to the interactive caller: each is invoked again
// when the previous answer conflicted, and may return an error to
// abort the flow. Passwords are requested at most AuthAttempts times.
type UploadFlow struct {
	Session *Session

	// AskUsername is re-invoked while the given username does not
	// exist on the server.
	AskUsername func(attempted string) (string, error)

	// AskPackage is invoked when the package name is already in use.
	// Returning a different name retries the probe; returning the
	// attempted name keeps it, appending a new version to the
	// existing package.
	AskPackage func(attempted string) (string, error)

	// AskPassword is re-invoked on authentication failure, up to
	// AuthAttempts times. attempt counts from 1.
	AskPassword func(attempt int) (string, error)

	// AskVersion is re-invoked while the label is already taken for
	// the package.
	AskVersion func(attempted string) (string, error)
}

// Run negotiates uploader identity, package name, and version label,
// then uploads content as version of pkg. Returns ErrAuthFailed after
// AuthAttempts consecutive password failures.
func (f *UploadFlow) Run(pkg, version string, content []byte) error {
	username := ""
	for {
		next, err := f.AskUsername(username)
		if err != nil {
			return err
		}
		username = next
		available, err := f.Session.VerifyUsername(username)
		if err != nil {
			return err
		}
		// VerifyUsername reports availability; an uploader needs the
		// opposite, an existing account.
		if !available {
			break
		}
	}

	for {
		taken, err := f.Session.PackageExists(pkg)
		if err != nil {
			return err
		}
		if !taken {
			break
		}
		next, err := f.AskPackage(pkg)
		if err != nil {
			return err
		}
		// Keeping the taken name is a deliberate choice to append a
		// version to the existing package.
		if next == pkg {
			break
		}
		pkg = next
	}

	authenticated := false
	for attempt := 1; attempt <= AuthAttempts; attempt++ {
		password, err := f.AskPassword(attempt)
		if err != nil {
			return err
		}
		ok, err := f.Session.Authenticate(username, HashPassword(password))
		if err != nil {
			return err
		}
		if ok {
			authenticated = true
			break
		}
	}
	if !authenticated {
		return fmt.Errorf("%w: %d attempts exhausted", ErrAuthFailed, AuthAttempts)
	}

	for {
		taken, err := f.Session.VersionExists(pkg, version)
		if err != nil {
			return err
		}
		if !taken {
			break
		}
		version, err = f.AskVersion(version)
		if err != nil {
			return err
		}
	}

	return f.Session.Upload(username, pkg, version, content)
}
