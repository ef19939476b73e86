// Package config loads the YAML configuration for chat session hosts: the
// backend identity (endpoint, credential, tenant), delivery-mode flags, the
// transcript cache backend and display overrides.
//
// Environment variables referenced as ${VAR_NAME} are expanded before
// parsing, so credentials can stay out of the file:
//
//	endpoint: https://support.example.com
//	credential: ${CHAT_CREDENTIAL}
//	push_enabled: true
//	poll_enabled: true
//	cache:
//	  backend: sqlite
//	  path: ~/.cache/chatsession/history.db
package config
