package vfs

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/types"
	"github.com/gingerrexayers/ibackup-go/internal/ibackup/wifi"
)

// networkPath returns the first candidate network file present in the
// effective view.
func (a *Archive) networkPath() (string, bool) {
	for _, p := range a.networkPaths {
		p = types.CleanLogical(p)
		if e, err := a.lookup(p); err == nil && e.Kind == types.KindFile {
			return p, true
		}
	}
	return "", false
}

// NetworkPath returns the logical path of the network list and whether it
// exists. When it does not, the path is where ReplaceNetworks would create
// it.
func (a *Archive) NetworkPath() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.networkPath(); ok {
		return p, true
	}
	return types.CleanLogical(a.networkPaths[0]), false
}

// ListNetworks returns the known wireless networks, reading pending edits
// first. A backup without a network list has no networks.
func (a *Archive) ListNetworks() ([]wifi.Network, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkUsable(); err != nil {
		return nil, err
	}

	list, _, err := a.loadNetworks()
	if err != nil {
		return nil, err
	}
	if list.Networks == nil {
		return []wifi.Network{}, nil
	}
	return list.Networks, nil
}

// loadNetworks decodes the current network list and returns it with the
// path it should be written back to.
func (a *Archive) loadNetworks() (*wifi.List, string, error) {
	p, ok := a.networkPath()
	if !ok {
		return wifi.NewList(nil), types.CleanLogical(a.networkPaths[0]), nil
	}
	data, err := a.readLocked(p)
	if err != nil {
		return nil, "", err
	}
	list, err := wifi.Decode(data)
	if err != nil {
		return nil, "", fmt.Errorf("could not parse networks in %s: %w", p, err)
	}
	return list, p, nil
}

// ReplaceNetworks stages a network list holding exactly networks. Fields
// the list does not model are carried over from the current file.
func (a *Archive) ReplaceNetworks(networks []wifi.Network) error {
	notify, err := a.replaceNetworks(networks)
	run(notify)
	return err
}

func (a *Archive) replaceNetworks(networks []wifi.Network) (func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkUsable(); err != nil {
		return nil, err
	}

	list, p, err := a.loadNetworks()
	if err != nil {
		return nil, err
	}
	list.Networks = networks
	data, err := wifi.Encode(list)
	if err != nil {
		return nil, fmt.Errorf("encoding networks: %w", err)
	}
	a.logger.Debug("networks replaced", zap.String("path", p), zap.Int("count", len(networks)))
	return a.writeLocked(p, data)
}
