// Package config defines the nestkv configuration file.
//
// A configuration looks like:
//
//	store:
//	  path: /var/lib/nestkv/db
//	  interval: 1m
//	  compression: zstd
//	  sync_mode: write
//	log:
//	  level: info
//	  format: text
//	metrics:
//	  enabled: true
//	  addr: 127.0.0.1:9464
//
// Every key can also be set through NESTKV_ environment variables, see
// package confloader.
package config
