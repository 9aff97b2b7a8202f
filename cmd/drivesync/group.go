package main

import (
	"context"
	"fmt"
	"path/filepath"

	"drivesync/internal/app"
	"drivesync/internal/drive"
	"drivesync/internal/ds"

	"github.com/spf13/cobra"
)

// identityAt returns the identity of the connected volume mounted at or
// above path.
func identityAt(ctx context.Context, a *app.DriveSyncApp, path string) (drive.Identity, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return drive.Identity{}, fmt.Errorf("resolving path: %w", err)
	}
	vols, err := a.Service().ConnectedVolumes(ctx)
	if err != nil {
		return drive.Identity{}, err
	}
	v, ok := drive.VolumeForPath(vols, abs)
	if !ok {
		return drive.Identity{}, fmt.Errorf("%w: no mounted volume contains %s", drive.ErrDriveNotFound, abs)
	}
	return v.Identity, nil
}

func printGroup(g *ds.DriveGroup) {
	fmt.Printf("ID:          %s\n", g.ID)
	fmt.Printf("Name:        %s\n", g.Name)
	if g.Description != "" {
		fmt.Printf("Description: %s\n", g.Description)
	}
	fmt.Printf("Master:      %s\n", g.Master.String())
	fmt.Printf("Backup:      %s\n", g.Backup.String())
	fmt.Printf("Created:     %s\n", g.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Modified:    %s\n", g.ModifiedAt.Format("2006-01-02 15:04:05"))
}

// drives command
var drivesCmd = &cobra.Command{
	Use:   "drives",
	Short: "List connected drives",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("drives", false)
		if err != nil {
			return err
		}
		defer a.Close()

		vols, err := a.Service().ConnectedVolumes(cmd.Context())
		if err != nil {
			return err
		}
		if len(vols) == 0 {
			fmt.Println("No drives connected.")
			return nil
		}
		for _, v := range vols {
			serial := v.SerialNumber
			if serial == "" {
				serial = "-"
			}
			fmt.Printf("%-20s  %-20s  %14d  %s\n", v.Label, serial, v.TotalSize, v.MountPoint)
		}
		return nil
	},
}

// group command
var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage drive groups",
}

var groupCreateCmd = &cobra.Command{
	Use:   "create NAME MASTER_MOUNT BACKUP_MOUNT",
	Short: "Pair a master drive with a backup drive",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")

		a, err := newApp("group create", false)
		if err != nil {
			return err
		}
		defer a.Close()

		master, err := identityAt(cmd.Context(), a, args[1])
		if err != nil {
			return fmt.Errorf("master: %w", err)
		}
		backup, err := identityAt(cmd.Context(), a, args[2])
		if err != nil {
			return fmt.Errorf("backup: %w", err)
		}

		g, err := a.Service().CreateGroup(args[0], description, master, backup)
		if err != nil {
			return err
		}
		printGroup(g)
		return nil
	},
}

var groupUpdateCmd = &cobra.Command{
	Use:   "update GROUP",
	Short: "Rename a group or replace one of its drives",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("group update", false)
		if err != nil {
			return err
		}
		defer a.Close()

		g, err := a.Service().Group(args[0])
		if err != nil {
			return err
		}
		updated := *g
		if cmd.Flags().Changed("name") {
			updated.Name, _ = cmd.Flags().GetString("name")
		}
		if cmd.Flags().Changed("description") {
			updated.Description, _ = cmd.Flags().GetString("description")
		}
		if path, _ := cmd.Flags().GetString("master"); path != "" {
			if updated.Master, err = identityAt(cmd.Context(), a, path); err != nil {
				return fmt.Errorf("master: %w", err)
			}
		}
		if path, _ := cmd.Flags().GetString("backup"); path != "" {
			if updated.Backup, err = identityAt(cmd.Context(), a, path); err != nil {
				return fmt.Errorf("backup: %w", err)
			}
		}

		res, err := a.Service().UpdateGroup(updated)
		if err != nil {
			return err
		}
		printGroup(res)
		return nil
	},
}

var groupDeleteCmd = &cobra.Command{
	Use:   "delete GROUP",
	Short: "Delete a group and forget its tracked files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("group delete", false)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Service().DeleteGroup(args[0]); err != nil {
			return err
		}
		a.MarkMutated()
		fmt.Printf("Deleted group %s\n", args[0])
		return nil
	},
}

var groupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List drive groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("group list", false)
		if err != nil {
			return err
		}
		defer a.Close()

		groups := a.Service().ListGroups()
		if len(groups) == 0 {
			fmt.Println("No groups defined.")
			return nil
		}
		for _, g := range groups {
			fmt.Printf("%-20s  %s -> %s\n", g.Name, g.Master.Label, g.Backup.Label)
		}
		return nil
	},
}

var groupShowCmd = &cobra.Command{
	Use:   "show GROUP",
	Short: "Show a group and where its drives are mounted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("group show", false)
		if err != nil {
			return err
		}
		defer a.Close()

		g, err := a.Service().Group(args[0])
		if err != nil {
			return err
		}
		printGroup(g)

		vols, err := a.Service().ConnectedVolumes(cmd.Context())
		if err != nil {
			return err
		}
		for _, d := range []struct {
			role string
			id   drive.Identity
		}{{ds.RoleMaster, g.Master}, {ds.RoleBackup, g.Backup}} {
			if v, ok := drive.Locate(vols, d.id); ok {
				fmt.Printf("%-6s mounted at %s\n", d.role, v.MountPoint)
			} else {
				fmt.Printf("%-6s not connected\n", d.role)
			}
		}
		return nil
	},
}

var resolveDriveCmd = &cobra.Command{
	Use:   "resolve-drive GROUP",
	Short: "Show which drive of a group would be used",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		a, err := newApp("resolve-drive", yes)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Service().ResolveDrive(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !res.Available {
			return fmt.Errorf("%s", res.Reason)
		}
		fmt.Printf("Using %s drive at %s\n", res.Role, res.Root)
		return nil
	},
}

func init() {
	groupCmd.AddCommand(groupCreateCmd)
	groupCreateCmd.Flags().StringP("description", "d", "", "Group description")
	groupCmd.AddCommand(groupUpdateCmd)
	groupUpdateCmd.Flags().String("name", "", "New group name")
	groupUpdateCmd.Flags().StringP("description", "d", "", "New description")
	groupUpdateCmd.Flags().String("master", "", "Mount point of the new master drive")
	groupUpdateCmd.Flags().String("backup", "", "Mount point of the new backup drive")
	groupCmd.AddCommand(groupDeleteCmd)
	groupCmd.AddCommand(groupListCmd)
	groupCmd.AddCommand(groupShowCmd)

	rootCmd.AddCommand(drivesCmd)
	rootCmd.AddCommand(groupCmd)
	rootCmd.AddCommand(resolveDriveCmd)
	resolveDriveCmd.Flags().BoolP("yes", "y", false, "Use the backup drive without asking when the master is missing")
}
