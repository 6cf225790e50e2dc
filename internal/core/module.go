package core

import "strings"

// ModuleID is a dotted, namespaced module identifier such as "channel.whatsapp".
type ModuleID string

// Namespace returns the part of the ID before the first dot.
func (id ModuleID) Namespace() string {
	ns, _, ok := strings.Cut(string(id), ".")
	if !ok {
		return ""
	}
	return ns
}

// Name returns the part of the ID after the first dot.
func (id ModuleID) Name() string {
	_, name, ok := strings.Cut(string(id), ".")
	if !ok {
		return string(id)
	}
	return name
}

// Module is implemented by every pluggable component.
type Module interface {
	ModuleInfo() ModuleInfo
}

// ModuleInfo describes a module and how to instantiate it.
type ModuleInfo struct {
	ID  ModuleID
	New func() Module
}
