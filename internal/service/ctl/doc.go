// Package ctl implements the guardianctl subcommands: querying and
// controlling a running guardian daemon over its HTTP API.
package ctl
