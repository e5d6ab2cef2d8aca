// Package config loads the rpcctl YAML configuration.
//
// Values of the form ${VAR} are expanded from the environment before
// parsing, so secrets can stay out of the file:
//
//	api:
//	  client_id: ${DERIBIT_CLIENT_ID}
//	  secret_file: /run/secrets/deribit
//
// Load parses only. LoadWithDefaults fills optional fields and
// LoadAndValidate additionally checks required ones.
package config
