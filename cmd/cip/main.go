package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/cippm/cip/internal/client"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func printHelp() {
	fmt.Println("cip - The C++ Package Installer")
	fmt.Println("usage: cip [cmd] [cmd options] [-h --help] [--list]")
	fmt.Println()
	fmt.Println("cip install <package name>                          Install the latest version of a package")
	fmt.Println("cip install <package name>=<version>                Install the specified version of a package")
	fmt.Println("cip uninstall <package name>                        Uninstall a package")
	fmt.Println("cip upload <package name> <package path>            Upload your package for everyone to use")
	fmt.Println("cip user <username> <-c --create> <-d --delete>     Get info about a user. Provide -c or --create flag for creating user")
	fmt.Println()
	fmt.Println("Additions:")
	fmt.Println("    -h --help")
	fmt.Println("         Print this menu")
	fmt.Println("    --list")
	fmt.Println("         List all possible commands")
}

var commands = map[string]func(*client.Session, []string) error{
	"install":   runInstall,
	"uninstall": runUninstall,
	"upload":    runUpload,
	"user":      runUser,
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func main() {
	addr := pflag.StringP("addr", "a", "127.0.0.1:7399", "registry server address")
	timeout := pflag.Duration("timeout", time.Minute, "per-request timeout")
	create := pflag.BoolP("create", "c", false, "create the named user")
	del := pflag.BoolP("delete", "d", false, "delete the named user")
	list := pflag.Bool("list", false, "list all possible commands")
	help := pflag.BoolP("help", "h", false, "print the help menu")
	pflag.Parse()
	args := pflag.Args()

	if *help || len(args) == 0 {
		printHelp()
		return
	}
	if *list {
		fmt.Println("Possible commands:")
		for _, name := range commandNames() {
			fmt.Println(name)
		}
		return
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Printf("Unrecognized command %s.\n", args[0])
		os.Exit(1)
	}

	// Flags relevant only to the user command travel through a
	// package-level spot; pflag has already consumed them.
	userFlags.create = *create
	userFlags.delete = *del

	session, err := client.Dial(*addr, *timeout, zap.NewNop())
	if err != nil {
		fmt.Printf("Failed to reach the registry: %v\n", err)
		os.Exit(1)
	}

	if err := cmd(session, args[1:]); err != nil {
		session.Quit()
		fmt.Println(err)
		os.Exit(1)
	}
	session.Quit()
}
