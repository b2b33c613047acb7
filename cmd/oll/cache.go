package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// handleCacheCommand processes the `oll cache` subcommand.
// Usage:
//
//	oll cache list
//	oll cache clear
//	oll cache prune -older-than 168h
func handleCacheCommand(e *env, args []string) error {
	if len(args) == 0 {
		newFlagSet(e, "cache").Usage()
		return errors.New("missing cache action")
	}
	action, rest := args[0], args[1:]

	fs := newFlagSet(e, "cache")
	olderThan := fs.Duration("older-than", 7*24*time.Hour, "Age after which prune removes entries")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	p, err := loadProject(e)
	if err != nil {
		return err
	}
	cache, err := p.openCache()
	if err != nil {
		return err
	}
	if cache == nil {
		return errors.New("the module cache is disabled in ollang.toml")
	}
	defer cache.Close()

	switch action {
	case "list":
		entries, err := cache.Entries()
		if err != nil {
			return err
		}
		for _, en := range entries {
			fmt.Fprintf(e.stdout, "%s  %-8s %4d hits  %-14s %s\n",
				en.Key[:12], humanize.Bytes(uint64(en.Size)), en.Hits, humanize.Time(en.Created), en.Path)
		}
		fmt.Fprintf(e.stdout, "%d modules in %s\n", len(entries), cache.Path())
	case "clear":
		if err := cache.Clear(); err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "cleared %s\n", cache.Path())
	case "prune":
		n, err := cache.Prune(time.Now().Add(-*olderThan))
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "removed %d modules older than %s\n", n, *olderThan)
	default:
		return fmt.Errorf("unknown cache action %q (want list, clear or prune)", action)
	}
	return nil
}
