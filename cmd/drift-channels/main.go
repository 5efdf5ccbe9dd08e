package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/driftfm/drift-core/internal/channels"
	"github.com/driftfm/drift-core/internal/radio"
)

var version = "0.1.0-dev"

func main() {
	var filePath string
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	validateCmd.StringVar(&filePath, "file", "channels.yaml", "Path to channel file")
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	listCmd.StringVar(&filePath, "file", "", "Path to channel file (built-in channels when empty)")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'validate', 'list' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		if err := runValidate(filePath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("channels valid")
	case "list":
		listCmd.Parse(os.Args[2:])
		if err := runList(os.Stdout, filePath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runValidate(path string) error {
	f, err := channels.LoadFile(path)
	if err != nil {
		return err
	}
	return channels.Validate(f.Channels)
}

func runList(w io.Writer, path string) error {
	reg, err := channels.Load(path)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tHOST\tGENRES\tINTRO CREDITS")
	for _, ch := range reg.All() {
		fmt.Fprintf(tw, "%d\t%s\t%s (%s)\t%s\t%d\n",
			ch.ID, ch.Name, ch.Host.Name, ch.Host.ID, strings.Join(ch.Genres, ","), radio.EstimateCost(ch.IntroText))
	}
	return tw.Flush()
}
