// Package model defines the core domain types for the chat relay.
package model
