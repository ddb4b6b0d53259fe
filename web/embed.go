package web

import "embed"

// Templates holds the HTML templates shipped with the binary.
//
//go:embed templates/**/*.html
var Templates embed.FS

// Static holds the CSS and JS assets served under /static/.
//
//go:embed static/**/*
var Static embed.FS
