// Package events distributes run lifecycle events to in-process subscribers
package events
