// Command containerlessctl is the operator CLI for the Controller API,
// grounded on the original containerless/rust/cli/src/main.rs's
// subcommand set (status, create, delete, shutdown, reset, get, list,
// invoke) and on cuemby-warren/cmd/warren's single-binary cobra layout.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/containerless/platform/pkg/cliclient"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "containerlessctl",
	Short: "Manage functions on a Containerless platform",
}

func init() {
	rootCmd.PersistentFlags().String("controller", "http://localhost:9000", "Controller API base URL")
	rootCmd.PersistentFlags().String("dispatcher", "http://localhost:8080", "Dispatcher base URL, used by invoke")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(shutdownCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(invokeCmd)
}

func client(cmd *cobra.Command) *cliclient.Client {
	addr, _ := cmd.Flags().GetString("controller")
	return cliclient.New(addr)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query the status of the Containerless controller",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		status, err := client(cmd).SystemStatus(ctx)
		if err != nil {
			return err
		}
		fmt.Println(status)
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a function from a source file",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		filename, _ := cmd.Flags().GetString("filename")
		if name == "" || filename == "" {
			return fmt.Errorf("both --name and --filename are required")
		}

		contents, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("read %s: %w", filename, err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := client(cmd).CreateFunction(ctx, name, string(contents)); err != nil {
			return err
		}
		fmt.Printf("created %s\n", name)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a function",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			return fmt.Errorf("--name is required")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client(cmd).DeleteFunction(ctx, name); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", name)
		return nil
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Shut down all running instances of a function",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			return fmt.Errorf("--name is required")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client(cmd).ShutdownFunction(ctx, name); err != nil {
			return err
		}
		fmt.Printf("shut down %s\n", name)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset a function's compiled trace",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			return fmt.Errorf("--name is required")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := client(cmd).ResetFunction(ctx, name); err != nil {
			return err
		}
		fmt.Printf("reset %s\n", name)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Print a function's source",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			return fmt.Errorf("--name is required")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		contents, err := client(cmd).GetFunction(ctx, name)
		if err != nil {
			return err
		}
		fmt.Println(contents)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered functions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		names, err := client(cmd).ListFunctions(ctx)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var invokeCmd = &cobra.Command{
	Use:   "invoke",
	Short: "Invoke a function through the dispatcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			return fmt.Errorf("--name is required")
		}
		dispatcherAddr, _ := cmd.Flags().GetString("dispatcher")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, dispatcherAddr+"/"+name+"/", nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("invoke %s: %w", name, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response from %s: %w", name, err)
		}
		fmt.Println(string(body))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{createCmd, deleteCmd, shutdownCmd, resetCmd, getCmd, invokeCmd} {
		c.Flags().String("name", "", "function name")
	}
	createCmd.Flags().String("filename", "", "path to the function's source file")
}
