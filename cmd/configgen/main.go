package main

import (
	"flag"
	"log"

	"github.com/danmuck/memxfer/internal/config"
)

const defaultPath = "cmd/memxferd/config.toml"

func main() {
	kind := flag.String("kind", "agent", "config kind: agent")
	output := flag.String("output", defaultPath, "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", defaultPath, "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.LoadAgentConfig(*input)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s (agent=%s addr=%s)", *kind, *input, cfg.Name, cfg.Addr)
		return
	}

	if err := config.WriteTemplate(*output, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, *output)
}
