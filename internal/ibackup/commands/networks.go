package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/wifi"
)

// Networks is the main function for the 'networks list' command.
func Networks(archiveDir string, opts Options) error {
	archive, err := openArchive(archiveDir, opts)
	if err != nil {
		return err
	}
	networks, err := archive.ListNetworks()
	if err != nil {
		return fmt.Errorf("could not read networks: %w", err)
	}

	if len(networks) == 0 {
		fmt.Printf("No known networks in \"%s\".\n", archive.Root())
		return nil
	}

	p, _ := archive.NetworkPath()
	fmt.Printf("Known networks in \"%s\" (%s):\n", archive.Root(), p)
	fmt.Printf("%-32s %-20s %-7s %-9s %-20s %s\n", "SSID", "SECURITY", "HIDDEN", "AUTOJOIN", "LAST JOINED", "CREDENTIAL")
	fmt.Printf("%-32s %-20s %-7s %-9s %-20s %s\n", "====", "========", "======", "========", "===========", "==========")
	for _, n := range networks {
		security := n.SecurityMode
		if security == "" {
			security = "-"
		}
		lastJoined := "-"
		if !n.LastJoined.IsZero() {
			lastJoined = n.LastJoined.UTC().Format("2006-01-02 15:04:05")
		}
		credential := "none"
		if n.Credential != nil {
			credential = "stored"
		}
		fmt.Printf("%-32s %-20s %-7s %-9s %-20s %s\n",
			n.SSID, security, yesNo(n.Hidden), yesNo(n.AutoJoin), lastJoined, credential)
	}
	fmt.Printf("\n%d network(s)\n", len(networks))
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// NetworkSSIDs returns the SSIDs of the known networks, for completion.
func NetworkSSIDs(archiveDir string, opts Options) ([]string, error) {
	archive, err := openArchive(archiveDir, opts)
	if err != nil {
		return nil, err
	}
	networks, err := archive.ListNetworks()
	if err != nil {
		return nil, err
	}
	ssids := make([]string, 0, len(networks))
	for _, n := range networks {
		ssids = append(ssids, n.SSID)
	}
	return ssids, nil
}

// RemoveNetworks is the main function for the 'networks remove' command.
// Every network whose SSID is listed is dropped and the result committed.
func RemoveNetworks(ctx context.Context, archiveDir string, ssids []string, opts Options) error {
	if len(ssids) == 0 {
		return fmt.Errorf("no SSIDs given")
	}
	archive, err := openArchive(archiveDir, opts)
	if err != nil {
		return err
	}
	networks, err := archive.ListNetworks()
	if err != nil {
		return fmt.Errorf("could not read networks: %w", err)
	}

	drop := make(map[string]bool, len(ssids))
	for _, s := range ssids {
		drop[s] = true
	}
	found := make(map[string]bool, len(ssids))
	kept := make([]wifi.Network, 0, len(networks))
	for _, n := range networks {
		if drop[n.SSID] {
			found[n.SSID] = true
			continue
		}
		kept = append(kept, n)
	}

	for _, s := range ssids {
		if !found[s] {
			fmt.Fprintf(os.Stderr, "Warning: no known network named %q\n", s)
		}
	}
	removed := len(networks) - len(kept)
	if removed == 0 {
		return fmt.Errorf("none of the given networks are known")
	}

	if err := archive.ReplaceNetworks(kept); err != nil {
		return fmt.Errorf("could not update networks: %w", err)
	}
	if err := archive.Commit(ctx); err != nil {
		return fmt.Errorf("could not save backup: %w", err)
	}

	fmt.Printf("✅ Removed %d network(s); %d remain.\n", removed, len(kept))
	return nil
}

// ClearNetworks is the main function for the 'networks clear' command.
func ClearNetworks(ctx context.Context, archiveDir string, opts Options) error {
	archive, err := openArchive(archiveDir, opts)
	if err != nil {
		return err
	}
	networks, err := archive.ListNetworks()
	if err != nil {
		return fmt.Errorf("could not read networks: %w", err)
	}
	if len(networks) == 0 {
		fmt.Println("No known networks to remove.")
		return nil
	}

	if err := archive.ReplaceNetworks([]wifi.Network{}); err != nil {
		return fmt.Errorf("could not update networks: %w", err)
	}
	if err := archive.Commit(ctx); err != nil {
		return fmt.Errorf("could not save backup: %w", err)
	}

	fmt.Printf("✅ Removed all %d network(s).\n", len(networks))
	return nil
}
