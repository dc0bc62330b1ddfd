package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store is the concurrency-safe catalog of users, packages and
// versions. It is backed by a shared-cache in-memory SQLite database
// restricted to a single pooled connection, so every operation runs
// serialized and atomically; nothing survives process exit.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// memSeq distinguishes the in-memory databases of concurrently open
// stores (tests open several per process).
var memSeq atomic.Int64

// Open creates an empty in-memory registry.
func Open(logger *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:cipregistry%d?mode=memory&cache=shared&_foreign_keys=on", memSeq.Add(1))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}

	// One connection, held for the lifetime of the store: it both keeps
	// the in-memory database alive and serializes all operations.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close discards the registry.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    website TEXT NOT NULL DEFAULT '',
    repo_link TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS packages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    name TEXT NOT NULL UNIQUE,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS versions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    package_id INTEGER NOT NULL,
    label TEXT NOT NULL,
    content BLOB NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (package_id) REFERENCES packages(id) ON DELETE CASCADE,
    UNIQUE(package_id, label)
);

CREATE INDEX IF NOT EXISTS idx_packages_name ON packages(name);
CREATE INDEX IF NOT EXISTS idx_versions_package_id ON versions(package_id);
`

// CreateUser inserts a new user. Returns ErrUserExists if the username
// is taken; concurrent creates of the same username admit exactly one.
func (s *Store) CreateUser(u User) error {
	_, err := s.db.Exec(
		`INSERT INTO users (username, password_hash, email, website, repo_link, description)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.Username, u.PasswordHash, u.Email, u.Website, u.RepoLink, u.Description,
	)
	if isUniqueViolation(err) {
		return ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	s.logger.Info("user registered", zap.String("username", u.Username))
	return nil
}

// FindUser returns the user record for username, or ErrUserNotFound.
func (s *Store) FindUser(username string) (*User, error) {
	u := &User{}
	err := s.db.QueryRow(
		`SELECT username, password_hash, email, website, repo_link, description
		 FROM users WHERE username = ?`, username,
	).Scan(&u.Username, &u.PasswordHash, &u.Email, &u.Website, &u.RepoLink, &u.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return u, nil
}

// UserExists reports whether username is registered.
func (s *Store) UserExists(username string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM users WHERE username = ?)`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return exists, nil
}

// Authenticate reports whether the password digest matches the stored
// one. A missing user authenticates as false, not as an error.
func (s *Store) Authenticate(username, passwordHash string) (bool, error) {
	var stored string
	err := s.db.QueryRow(`SELECT password_hash FROM users WHERE username = ?`, username).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to authenticate: %w", err)
	}
	return stored == passwordHash, nil
}

// DeleteUser removes a user and, through cascade, every package and
// version they own.
func (s *Store) DeleteUser(username string) error {
	res, err := s.db.Exec(`DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	s.logger.Info("user deleted", zap.String("username", username))
	return nil
}

// AddPackageVersion appends a version to the named package, creating
// the package under username if it does not exist yet. Returns
// ErrOwnerMissing if the user is unknown and ErrVersionExists if the
// package already carries the label.
func (s *Store) AddPackageVersion(username, packageName, label string, content []byte) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin upload: %w", err)
	}
	defer tx.Rollback()

	var userID int64
	err = tx.QueryRow(`SELECT id FROM users WHERE username = ?`, username).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrOwnerMissing
	}
	if err != nil {
		return fmt.Errorf("failed to look up owner: %w", err)
	}

	var packageID int64
	err = tx.QueryRow(`SELECT id FROM packages WHERE name = ?`, packageName).Scan(&packageID)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.QueryRow(
			`INSERT INTO packages (user_id, name) VALUES (?, ?) RETURNING id`,
			userID, packageName,
		).Scan(&packageID)
	}
	if err != nil {
		return fmt.Errorf("failed to resolve package: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO versions (package_id, label, content) VALUES (?, ?, ?)`,
		packageID, label, content,
	)
	if isUniqueViolation(err) {
		return ErrVersionExists
	}
	if err != nil {
		return fmt.Errorf("failed to add version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upload: %w", err)
	}
	s.logger.Info("version stored",
		zap.String("package", packageName),
		zap.String("version", label),
		zap.String("owner", username))
	return nil
}

// ResolveVersion returns the version of packageName matching label.
// The reserved label RECENT resolves to the last-appended version.
func (s *Store) ResolveVersion(packageName, label string) (*Version, error) {
	var packageID int64
	err := s.db.QueryRow(`SELECT id FROM packages WHERE name = ?`, packageName).Scan(&packageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPackageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up package: %w", err)
	}

	query := `
		SELECT v.label, u.username, v.content, v.created_at
		FROM versions v
		JOIN packages p ON p.id = v.package_id
		JOIN users u ON u.id = p.user_id
		WHERE v.package_id = ?`
	args := []any{packageID}
	if label == "RECENT" {
		query += ` ORDER BY v.id DESC LIMIT 1`
	} else {
		query += ` AND v.label = ?`
		args = append(args, label)
	}

	v := &Version{}
	err = s.db.QueryRow(query, args...).Scan(&v.Label, &v.Owner, &v.Content, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve version: %w", err)
	}
	return v, nil
}

// PackageExists reports whether a package with the given name exists.
func (s *Store) PackageExists(name string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM packages WHERE name = ?)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check package: %w", err)
	}
	return exists, nil
}

// VersionExists reports whether the named package carries the label.
// A missing package has no versions, so the label counts as free.
func (s *Store) VersionExists(packageName, label string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(
		`SELECT EXISTS(
			SELECT 1 FROM versions v
			JOIN packages p ON p.id = v.package_id
			WHERE p.name = ? AND v.label = ?
		)`, packageName, label,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check version: %w", err)
	}
	return exists, nil
}

// DescribeUser renders the profile of username as display text,
// including the packages they own in first-upload order.
func (s *Store) DescribeUser(username string) (string, error) {
	u, err := s.FindUser(username)
	if err != nil {
		return "", err
	}

	rows, err := s.db.Query(
		`SELECT p.name FROM packages p
		 JOIN users u ON u.id = p.user_id
		 WHERE u.username = ? ORDER BY p.id`, username,
	)
	if err != nil {
		return "", fmt.Errorf("failed to list packages: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", fmt.Errorf("failed to scan package: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to list packages: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Username: %s\n", u.Username)
	fmt.Fprintf(&b, "Email: %s\n", u.Email)
	fmt.Fprintf(&b, "Website: %s\n", u.Website)
	fmt.Fprintf(&b, "Repository: %s\n", u.RepoLink)
	fmt.Fprintf(&b, "Description: %s\n", u.Description)
	fmt.Fprintf(&b, "Packages: %s", strings.Join(names, ", "))
	return b.String(), nil
}

// ListPackages returns every package with its versions, most recent
// version first, for the browse API.
func (s *Store) ListPackages() ([]PackageInfo, error) {
	rows, err := s.db.Query(
		`SELECT p.id, p.name, u.username FROM packages p
		 JOIN users u ON u.id = p.user_id ORDER BY p.name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query packages: %w", err)
	}
	defer rows.Close()

	type row struct {
		id   int64
		info PackageInfo
	}
	var packages []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.info.Name, &r.info.Owner); err != nil {
			return nil, fmt.Errorf("failed to scan package: %w", err)
		}
		packages = append(packages, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query packages: %w", err)
	}

	result := make([]PackageInfo, 0, len(packages))
	for _, p := range packages {
		versions, err := s.packageVersions(p.id)
		if err != nil {
			return nil, err
		}
		p.info.Versions = versions
		result = append(result, p.info)
	}
	return result, nil
}

// GetPackage returns one package with its versions, or
// ErrPackageNotFound.
func (s *Store) GetPackage(name string) (*PackageInfo, error) {
	info := &PackageInfo{}
	var packageID int64
	err := s.db.QueryRow(
		`SELECT p.id, p.name, u.username FROM packages p
		 JOIN users u ON u.id = p.user_id WHERE p.name = ?`, name,
	).Scan(&packageID, &info.Name, &info.Owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPackageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get package: %w", err)
	}

	info.Versions, err = s.packageVersions(packageID)
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (s *Store) packageVersions(packageID int64) ([]VersionInfo, error) {
	rows, err := s.db.Query(
		`SELECT label, length(content), created_at FROM versions
		 WHERE package_id = ? ORDER BY id DESC`, packageID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	var versions []VersionInfo
	for rows.Next() {
		var v VersionInfo
		var createdAt sql.NullTime
		if err := rows.Scan(&v.Label, &v.Size, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		if createdAt.Valid {
			v.UpdatedAt = createdAt.Time.Unix()
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	return versions, nil
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
