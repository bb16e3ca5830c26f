package cache

import "github.com/opsagent/signalops/pkg/store"

func writeWarmSet(path string, v any) error {
	return store.WriteJSONAtomic(path, v)
}

func readWarmSet(path string, v any) error {
	return store.ReadJSON(path, v)
}
