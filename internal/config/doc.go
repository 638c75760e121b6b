// Package config defines configuration for the ferry server and CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (FERRY_ prefix, also read from a .env file)
//   - YAML configuration file
//
// Later sources override earlier ones: defaults, file, environment, flags.
//
// # File format
//
//	server:
//	  addr: ":8080"
//	  bucket: "s3://artifacts?region=eu-west-1"
//	  staging: "file:///var/lib/ferry/chunks"
//	  metadata: "redis://localhost:6379/0"
//	  codec: zstd
//	  max_chunk_size: 64MiB
//	  read_timeout: 10m
//	client:
//	  server_url: "http://localhost:8080"
//	  chunk_size: 2MiB
//	  concurrency: 3
//	  retry:
//	    attempts: 3
//	    backoff: 1s
//	log:
//	  level: info
//	  format: json
//
// Sizes accept KiB/MiB/GiB (binary) and KB/MB/GB (decimal) suffixes.
package config
