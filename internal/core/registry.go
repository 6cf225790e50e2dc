package core

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// catalog is the process-wide set of module constructors, filled by the
// init functions of module packages.
var catalog = struct {
	sync.RWMutex
	byID map[string]ModuleInfo
}{byID: make(map[string]ModuleInfo)}

// RegisterModule adds the module described by instance.ModuleInfo to the
// catalog. It panics on an empty ID, a nil constructor or a duplicate ID,
// all of which are programming errors caught at init time.
func RegisterModule(instance Module) {
	info := instance.ModuleInfo()
	switch {
	case info.ID == "":
		panic("core: module ID must not be empty")
	case info.New == nil:
		panic(fmt.Sprintf("core: module %s has no constructor", info.ID))
	}

	catalog.Lock()
	defer catalog.Unlock()
	if _, dup := catalog.byID[string(info.ID)]; dup {
		panic(fmt.Sprintf("core: module %s registered twice", info.ID))
	}
	catalog.byID[string(info.ID)] = info
}

// GetModule looks a module up by ID.
func GetModule(id string) (ModuleInfo, bool) {
	catalog.RLock()
	defer catalog.RUnlock()
	info, ok := catalog.byID[id]
	return info, ok
}

// GetModules returns every registered module, sorted by ID.
func GetModules() []ModuleInfo {
	return selectModules(func(ModuleID) bool { return true })
}

// GetModulesByNamespace returns the modules whose ID lives in namespace,
// sorted by ID: "channel" selects "channel.telegram" and "channel.webchat".
func GetModulesByNamespace(namespace string) []ModuleInfo {
	return selectModules(func(id ModuleID) bool { return id.Namespace() == namespace })
}

func selectModules(keep func(ModuleID) bool) []ModuleInfo {
	catalog.RLock()
	defer catalog.RUnlock()
	out := slices.Collect(func(yield func(ModuleInfo) bool) {
		for info := range maps.Values(catalog.byID) {
			if keep(info.ID) && !yield(info) {
				return
			}
		}
	})
	slices.SortFunc(out, func(a, b ModuleInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// resetRegistry empties the catalog between tests.
func resetRegistry() {
	catalog.Lock()
	defer catalog.Unlock()
	clear(catalog.byID)
}
