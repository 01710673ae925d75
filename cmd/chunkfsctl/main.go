// Command chunkfsctl is a thin administrative CLI over the coordinator
// package: mkdir, ls, rm, put, get, stat, and server-status. It mirrors
// client/dfs_client.py's DFSClient surface; spec.md §1 places "the CLI
// example driver" out of scope as an external collaborator, so this stays
// a demonstration wrapper rather than a feature surface of its own.
package main

import (
	"fmt"
	"os"
	"strings"

	"chunkfs/internal/coordinator"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chunkfsctl",
		Short: "Administrative client for a chunkfs cluster",
	}
	rootCmd.PersistentFlags().String("metadata-addrs", "localhost:4564", "comma-separated metadata API addresses")
	rootCmd.PersistentFlags().String("token", "", "bearer token (or CHUNKFS_TOKEN env)")

	rootCmd.AddCommand(
		newMkdirCmd(),
		newLsCmd(),
		newRmCmd(),
		newPutCmd(),
		newGetCmd(),
		newStatCmd(),
		newServerStatusCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func coordinatorFromCmd(cmd *cobra.Command) *coordinator.Coordinator {
	addrsFlag, _ := cmd.Flags().GetString("metadata-addrs")
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = os.Getenv("CHUNKFS_TOKEN")
	}
	addrs := strings.Split(addrsFlag, ",")
	return coordinator.New(coordinator.Config{
		Metadata: coordinator.NewMetadataClient(addrs, token),
	})
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := coordinatorFromCmd(cmd)
			in, err := c.CreateDirectory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("created directory %s (inode %d)\n", args[0], in.ID)
			return nil
		},
	}
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <path>",
		Short: "List a directory's entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := coordinatorFromCmd(cmd)
			entries, err := c.ListDirectory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, e := range entries {
				kind := "file"
				if e.Type == "directory" {
					kind = "dir"
				}
				fmt.Printf("%-5s %10d  %s\n", kind, e.Size, e.Name)
			}
			return nil
		},
	}
}

func newRmCmd() *cobra.Command {
	recursive := false
	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Remove a file or (with -r) a directory tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := coordinatorFromCmd(cmd)
			if recursive {
				return c.DeleteRecursive(cmd.Context(), args[0])
			}
			return c.Delete(cmd.Context(), args[0])
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "remove directories and their contents recursively")
	return cmd
}

func newPutCmd() *cobra.Command {
	parallel := false
	cmd := &cobra.Command{
		Use:   "put <local-path> <remote-path>",
		Short: "Upload a local file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := coordinatorFromCmd(cmd)
			if parallel {
				inode, err := c.UploadParallel(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Printf("uploaded %s -> %s (%d bytes)\n", args[0], args[1], inode.Size)
				return nil
			}
			inode, err := c.UploadResumable(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("uploaded %s -> %s (%d bytes)\n", args[0], args[1], inode.Size)
			return nil
		},
	}
	cmd.Flags().BoolVar(&parallel, "parallel", false, "upload all chunks concurrently instead of resumably")
	return cmd
}

func newGetCmd() *cobra.Command {
	version := 0
	cmd := &cobra.Command{
		Use:   "get <remote-path> <local-path>",
		Short: "Download a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := coordinatorFromCmd(cmd)
			if err := c.DownloadParallel(cmd.Context(), args[0], args[1], version); err != nil {
				return err
			}
			fmt.Printf("downloaded %s -> %s\n", args[0], args[1])
			return nil
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "file version to download (0 = current)")
	return cmd
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Show an inode's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := coordinatorFromCmd(cmd)
			in, err := c.ResolvePath(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("name:     %s\n", in.Name)
			fmt.Printf("type:     %s\n", in.Type)
			fmt.Printf("size:     %d\n", in.Size)
			fmt.Printf("version:  %d\n", in.Version)
			fmt.Printf("owner:    %s\n", in.Owner)
			fmt.Printf("modified: %s\n", in.ModifiedAt)
			return nil
		},
	}
}

func newServerStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server-status <server-id>",
		Short: "Show a storage node's registry entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := coordinatorFromCmd(cmd)
			srv, err := c.GetServer(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("address:    %s\n", srv.Address)
			fmt.Printf("zone:       %s\n", srv.Zone)
			fmt.Printf("status:     %s\n", srv.Status)
			fmt.Printf("capacity:   %d\n", srv.Capacity)
			fmt.Printf("used:       %d\n", srv.Used)
			fmt.Printf("chunks:     %d\n", srv.ChunkCount)
			fmt.Printf("last seen:  %s\n", srv.LastSeen)
			return nil
		},
	}
}
