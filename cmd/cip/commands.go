package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cippm/cip/internal/client"
	"github.com/cippm/cip/internal/protocol"
	"github.com/cippm/cip/pkg/archive"
)

var packageNamePattern = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

var userFlags struct {
	create bool
	delete bool
}

func runInstall(session *client.Session, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: cip install <package name>[=<version>]")
	}

	pkg, version := args[0], protocol.RecentLabel
	if name, ver, ok := strings.Cut(args[0], "="); ok && name != "" && ver != "" {
		pkg, version = name, ver
	}

	content, err := session.Install(pkg, version)
	var remote *client.RemoteError
	if errors.As(err, &remote) {
		fmt.Println(remote.Reason)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Println("Creating path...")
	path, err := installTarget()
	if err != nil {
		return err
	}

	fmt.Println("Writing package...")
	target := filepath.Join(path, pkg)
	if err := os.WriteFile(target, content, 0644); err != nil {
		return fmt.Errorf("failed to write package: %w", err)
	}

	fmt.Println("Changing permissions...")
	if err := os.Chmod(target, 0755); err != nil {
		return fmt.Errorf("failed to change permissions: %w", err)
	}

	fmt.Printf("Successfully installed %s\n", pkg)
	return nil
}

func runUninstall(session *client.Session, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: cip uninstall <package name>")
	}
	pkg := args[0]

	if !confirm(fmt.Sprintf("Are you sure you want to uninstall %s?", pkg)) {
		return nil
	}

	fmt.Println("Getting path...")
	dir, err := installTarget()
	if err != nil {
		return err
	}

	fmt.Println("Removing package...")
	path := filepath.Join(dir, pkg)
	info, statErr := os.Stat(path)
	switch {
	case statErr != nil:
		fmt.Printf("Package %s does not exist\n", pkg)
		return nil
	case info.IsDir():
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to remove package: %w", err)
		}
	default:
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove package: %w", err)
		}
	}

	if err := session.Uninstall(pkg); err != nil {
		return err
	}
	fmt.Printf("Successfully removed %s\n", pkg)
	return nil
}

func runUpload(session *client.Session, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: cip upload <package name> <package path>")
	}

	pkg := args[0]
	for !packageNamePattern.MatchString(pkg) {
		fmt.Printf("Invalid package name %s\n", pkg)
		pkg = promptLine("Package name: ")
	}

	fmt.Println("Compressing data...")
	content, err := archive.Path(args[1])
	if err != nil {
		return err
	}

	version := promptLine("Version: ")
	flow := &client.UploadFlow{
		Session: session,
		AskUsername: func(attempted string) (string, error) {
			if attempted != "" {
				fmt.Printf("User %s does not exist\n", attempted)
			}
			return promptLine("Username: "), nil
		},
		AskPackage: func(attempted string) (string, error) {
			fmt.Printf("Package %s already exists\n", attempted)
			next := promptLine("Package name (leave blank to add a version to it): ")
			if next == "" {
				return attempted, nil
			}
			for !packageNamePattern.MatchString(next) {
				fmt.Printf("Invalid package name %s\n", next)
				next = promptLine("Package name: ")
			}
			return next, nil
		},
		AskPassword: func(attempt int) (string, error) {
			return promptPassword(fmt.Sprintf("(Attempt %d/%d) Password: ", attempt, client.AuthAttempts))
		},
		AskVersion: func(attempted string) (string, error) {
			fmt.Printf("Version %s already exists\n", attempted)
			return promptLine("Version: "), nil
		},
	}

	if err := flow.Run(pkg, version, content); err != nil {
		if errors.Is(err, client.ErrAuthFailed) {
			fmt.Println("3 attempts failed. Try again next time.")
			return nil
		}
		return err
	}
	fmt.Println("Successfully uploaded")
	return nil
}

func runUser(session *client.Session, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: cip user <username> [-c --create] [-d --delete]")
	}

	username := args[0]
	for !isAlphanumeric(username) {
		fmt.Println("Username is not alphanumeric")
		username = promptLine("Username: ")
	}

	switch {
	case userFlags.create:
		return createUser(session, username)
	case userFlags.delete:
		return deleteUser(session, username)
	default:
		profile, err := session.UserInfo(username)
		if err != nil {
			return err
		}
		fmt.Println(profile)
		return nil
	}
}

func createUser(session *client.Session, username string) error {
	for {
		available, err := session.VerifyUsername(username)
		if err != nil {
			return err
		}
		if available {
			break
		}
		fmt.Println("User already exists. Try a different username.")
		username = promptLine("Username: ")
	}

	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}
	confirmed, err := promptPassword("Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirmed {
		fmt.Println("Passwords didn't match")
		return nil
	}
	fmt.Println("Passwords match")
	fmt.Println("Note: The rest of the fields are not required. Leave them blank at choice.")

	err = session.CreateUser(client.NewUser{
		Username:    username,
		Password:    password,
		Email:       promptLine("Email: "),
		Website:     promptLine("Website: "),
		RepoLink:    promptLine("Repository: "),
		Description: promptLine("Description: "),
	})
	if err != nil {
		fmt.Println("Unfortunately the user could not be created.")
		return err
	}
	fmt.Printf("Successfully created user %s\n", username)
	return nil
}

func deleteUser(session *client.Session, username string) error {
	for {
		available, err := session.VerifyUsername(username)
		if err != nil {
			return err
		}
		if !available {
			break
		}
		fmt.Printf("User %s does not exist\n", username)
		username = promptLine("Username: ")
	}

	authenticated := false
	for attempt := 1; attempt <= client.AuthAttempts; attempt++ {
		password, err := promptPassword(fmt.Sprintf("(Attempt %d/%d) Password: ", attempt, client.AuthAttempts))
		if err != nil {
			return err
		}
		ok, err := session.Authenticate(username, client.HashPassword(password))
		if err != nil {
			return err
		}
		if ok {
			authenticated = true
			break
		}
		fmt.Println("Incorrect password")
	}
	if !authenticated {
		fmt.Println("3 attempts failed. Try again next time.")
		return nil
	}

	if !confirm(fmt.Sprintf("Are you sure you want to delete %s?", username)) {
		return nil
	}
	fmt.Println("Deleting user from server...")
	if err := session.DeleteUser(username); err != nil {
		fmt.Printf("Deletion failed for %s\n", username)
		return err
	}
	fmt.Printf("%s got deleted\n", username)
	return nil
}

func isAlphanumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9') {
			return false
		}
	}
	return true
}
