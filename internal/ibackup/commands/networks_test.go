package commands_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/commands"
	"github.com/gingerrexayers/ibackup-go/internal/ibackup/lib"
	"github.com/gingerrexayers/ibackup-go/internal/ibackup/manifest"
)

func TestNetworks(t *testing.T) {
	t.Run("Lists every known network", func(t *testing.T) {
		dir := setupBackup(t, sampleNetworks())
		var cmdErr error
		output, err := captureStdout(func() {
			cmdErr = commands.Networks(dir, commands.Options{})
		})
		require.NoError(t, err)
		require.NoError(t, cmdErr)

		assert.Contains(t, output, "Known networks in")
		assert.Contains(t, output, wifiPath)
		for _, ssid := range []string{"home", "cafe", "office"} {
			assert.Contains(t, output, ssid)
		}
		assert.Contains(t, output, "WPA2 Enterprise")
		assert.Contains(t, output, "stored")
		assert.Contains(t, output, "3 network(s)")
	})

	t.Run("Backups without a network list", func(t *testing.T) {
		dir := setupBackup(t, nil)
		var cmdErr error
		output, err := captureStdout(func() {
			cmdErr = commands.Networks(dir, commands.Options{})
		})
		require.NoError(t, err)
		require.NoError(t, cmdErr)
		assert.Contains(t, output, "No known networks")
		assert.Empty(t, networkSSIDs(t, dir))
	})

	t.Run("Custom network paths", func(t *testing.T) {
		dir := setupBackup(t, sampleNetworks())
		opts := commands.Options{NetworkPaths: []string{"WirelessDomain/com.apple.wifi.plist"}}
		ssids, err := commands.NetworkSSIDs(dir, opts)
		require.NoError(t, err)
		assert.Empty(t, ssids)
	})
}

func TestRemoveNetworks(t *testing.T) {
	t.Run("Removes the named networks and commits", func(t *testing.T) {
		dir := setupBackup(t, sampleNetworks())
		var cmdErr error
		output, err := captureStdout(func() {
			cmdErr = commands.RemoveNetworks(context.Background(), dir, []string{"cafe", "office"}, commands.Options{})
		})
		require.NoError(t, err)
		require.NoError(t, cmdErr)

		assert.Contains(t, output, "Removed 2 network(s); 1 remain.")
		assert.Equal(t, []string{"home"}, networkSSIDs(t, dir))
	})

	t.Run("The new content lands in the pool", func(t *testing.T) {
		dir := setupBackup(t, sampleNetworks())
		_, err := captureStdout(func() {
			require.NoError(t, commands.RemoveNetworks(context.Background(), dir, []string{"home"}, commands.Options{}))
		})
		require.NoError(t, err)

		idx, err := manifest.Load(dir)
		require.NoError(t, err)
		e, err := idx.Resolve(wifiPath)
		require.NoError(t, err)
		data, err := os.ReadFile(filepath.Join(dir, e.ContentID))
		require.NoError(t, err)
		assert.Equal(t, e.ContentID, lib.GetHash(data))
		assert.Equal(t, int64(len(data)), e.Size)
	})

	t.Run("Unknown SSIDs are skipped", func(t *testing.T) {
		dir := setupBackup(t, sampleNetworks())
		var cmdErr error
		_, err := captureStdout(func() {
			cmdErr = commands.RemoveNetworks(context.Background(), dir, []string{"nowhere", "home"}, commands.Options{})
		})
		require.NoError(t, err)
		require.NoError(t, cmdErr)
		assert.Equal(t, []string{"cafe", "office"}, networkSSIDs(t, dir))
	})

	t.Run("Nothing to remove", func(t *testing.T) {
		dir := setupBackup(t, sampleNetworks())
		manifestPath := filepath.Join(dir, lib.MBDBManifestName)
		before, err := os.ReadFile(manifestPath)
		require.NoError(t, err)

		err = commands.RemoveNetworks(context.Background(), dir, []string{"nowhere"}, commands.Options{})
		assert.Error(t, err)
		err = commands.RemoveNetworks(context.Background(), dir, nil, commands.Options{})
		assert.Error(t, err)

		after, err := os.ReadFile(manifestPath)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("Cancelled context leaves the backup untouched", func(t *testing.T) {
		dir := setupBackup(t, sampleNetworks())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := commands.RemoveNetworks(ctx, dir, []string{"home"}, commands.Options{})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, []string{"home", "cafe", "office"}, networkSSIDs(t, dir))
	})
}

func TestClearNetworks(t *testing.T) {
	dir := setupBackup(t, sampleNetworks())
	var cmdErr error
	output, err := captureStdout(func() {
		cmdErr = commands.ClearNetworks(context.Background(), dir, commands.Options{})
	})
	require.NoError(t, err)
	require.NoError(t, cmdErr)
	assert.Contains(t, output, "Removed all 3 network(s).")
	assert.Empty(t, networkSSIDs(t, dir))

	output, err = captureStdout(func() {
		cmdErr = commands.ClearNetworks(context.Background(), dir, commands.Options{})
	})
	require.NoError(t, err)
	require.NoError(t, cmdErr)
	assert.Contains(t, output, "No known networks to remove.")
}
