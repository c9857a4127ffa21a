package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Faultbox/midgard-combine/internal/config"
)

func cmdConfig(args []string) int {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	out := fs.String("o", "", "Output path (default: user config dir)")
	fs.Parse(args)

	cfg := config.Default()
	var err error
	if *out == "" {
		err = cfg.Save()
	} else {
		err = cfg.SaveTo(*out)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println("Config written")
	return 0
}
