// Package config loads the JSON configuration of the creatord daemon and
// fills in defaults for every optional field. Relative paths are resolved
// against the directory of the configuration file.
package config
