// Package config loads the parley YAML configuration file.
//
// Values in the file may reference environment variables with ${VAR_NAME}
// syntax; unset variables expand to the empty string. Missing optional
// sections fall back to the defaults from Default().
package config
