package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/otama-go/otama"
)

var (
	configPath string
	outputJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "otama",
	Short: "CLI tool for the otama content-based similarity engine",
	Long:  `A command-line interface for inserting, searching and maintaining an otama image similarity database.`,
}

func openHandle() (*otama.Handle, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config file not specified (use -c)")
	}
	return otama.OpenPath(configPath)
}

// queryFromFlags builds an otama.Query from the first of --id, --string
// and --file that was given; insert/search/similarity all share this
// convention. A --file query is passed through as is; the facade reports
// it as ErrNotImplemented since feature extraction from raw image files
// is out of scope.
func queryFromFlags(cmd *cobra.Command) (otama.Query, error) {
	id, _ := cmd.Flags().GetString("id")
	str, _ := cmd.Flags().GetString("string")
	file, _ := cmd.Flags().GetString("file")
	switch {
	case id != "":
		return otama.Query{ID: id}, nil
	case str != "":
		return otama.Query{String: str}, nil
	case file != "":
		return otama.Query{File: file}, nil
	default:
		return otama.Query{}, fmt.Errorf("one of --id, --string or --file is required")
	}
}

var insertCmd = &cobra.Command{
	Use:   "insert",
	Short: "Insert a feature into the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHandle()
		if err != nil {
			return err
		}
		defer h.Close()

		q, err := queryFromFlags(cmd)
		if err != nil {
			return err
		}

		id, err := h.Insert(q)
		if err != nil {
			return fmt.Errorf("insert failed: %w", err)
		}
		fmt.Printf("inserted %s\n", id)
		return nil
	},
}

var existsCmd = &cobra.Command{
	Use:   "exists <id>",
	Short: "Check whether an id has a master record (removed records included)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHandle()
		if err != nil {
			return err
		}
		defer h.Close()

		ok, err := h.Exists(args[0])
		if err != nil {
			return fmt.Errorf("exists failed: %w", err)
		}
		fmt.Println(ok)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Flag a record as deleted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHandle()
		if err != nil {
			return err
		}
		defer h.Close()

		if err := h.Remove(args[0]); err != nil {
			return fmt.Errorf("remove failed: %w", err)
		}
		fmt.Printf("removed %s\n", args[0])
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search for similar records",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("top-n")

		h, err := openHandle()
		if err != nil {
			return err
		}
		defer h.Close()

		q, err := queryFromFlags(cmd)
		if err != nil {
			return err
		}

		results, err := h.Search(n, q)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}

		if outputJSON {
			data, _ := json.MarshalIndent(results, "", "  ")
			fmt.Println(string(data))
		} else {
			fmt.Printf("found %d results:\n", len(results))
			for i, r := range results {
				fmt.Printf("%d. %s (similarity: %.6f)\n", i+1, r.ID, r.Similarity)
			}
		}
		return nil
	},
}

var similarityCmd = &cobra.Command{
	Use:   "similarity",
	Short: "Score two records against each other",
	RunE: func(cmd *cobra.Command, args []string) error {
		idA, _ := cmd.Flags().GetString("a")
		idB, _ := cmd.Flags().GetString("b")
		if idA == "" || idB == "" {
			return fmt.Errorf("both --a and --b are required")
		}

		h, err := openHandle()
		if err != nil {
			return err
		}
		defer h.Close()

		sim, err := h.SimilarityID(idA, idB)
		if err != nil {
			return fmt.Errorf("similarity failed: %w", err)
		}
		fmt.Printf("similarity: %.6f\n", sim)
		return nil
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull new and updated master rows into the local store",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHandle()
		if err != nil {
			return err
		}
		defer h.Close()

		if err := h.Pull(); err != nil {
			return fmt.Errorf("pull failed: %w", err)
		}
		fmt.Println("pull complete")
		return nil
	},
}

var vacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Compact the local index",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHandle()
		if err != nil {
			return err
		}
		defer h.Close()

		if err := h.VacuumIndex(); err != nil {
			return fmt.Errorf("vacuum failed: %w", err)
		}
		fmt.Println("vacuum complete")
		return nil
	},
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of records in the local index (removed records included)",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHandle()
		if err != nil {
			return err
		}
		defer h.Close()

		n, err := h.Count()
		if err != nil {
			return fmt.Errorf("count failed: %w", err)
		}
		fmt.Println(n)
		return nil
	},
}

var databaseCmd = &cobra.Command{
	Use:   "database",
	Short: "Manage the master database",
}

var createDatabaseCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the master database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHandle()
		if err != nil {
			return err
		}
		defer h.Close()

		if err := h.CreateDatabase(); err != nil {
			return fmt.Errorf("create_database failed: %w", err)
		}
		fmt.Println("database created")
		return nil
	},
}

var dropDatabaseCmd = &cobra.Command{
	Use:   "drop",
	Short: "Drop the master database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if !force {
			fmt.Print("this drops all master records, are you sure? [y/N]: ")
			var response string
			fmt.Scanln(&response)
			if response != "y" && response != "Y" {
				fmt.Println("cancelled.")
				return nil
			}
		}

		h, err := openHandle()
		if err != nil {
			return err
		}
		defer h.Close()

		if err := h.DropDatabase(); err != nil {
			return fmt.Errorf("drop_database failed: %w", err)
		}
		fmt.Println("database dropped")
		return nil
	},
}

var dropIndexCmd = &cobra.Command{
	Use:   "drop-index",
	Short: "Drop the local index store",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHandle()
		if err != nil {
			return err
		}
		defer h.Close()

		if err := h.DropIndex(); err != nil {
			return fmt.Errorf("drop_index failed: %w", err)
		}
		fmt.Println("index dropped")
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a driver control-channel setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHandle()
		if err != nil {
			return err
		}
		defer h.Close()

		if err := h.Set(args[0], args[1]); err != nil {
			return fmt.Errorf("set failed: %w", err)
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read a driver control-channel setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHandle()
		if err != nil {
			return err
		}
		defer h.Close()

		v, err := h.Get(args[0])
		if err != nil {
			return fmt.Errorf("get failed: %w", err)
		}
		fmt.Println(v)
		return nil
	},
}

var unsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Reset a driver control-channel setting to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHandle()
		if err != nil {
			return err
		}
		defer h.Close()

		if err := h.Unset(args[0]); err != nil {
			return fmt.Errorf("unset failed: %w", err)
		}
		return nil
	},
}

var invokeCmd = &cobra.Command{
	Use:   "invoke <method> [input]",
	Short: "Invoke a driver control-channel action",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := ""
		if len(args) == 2 {
			in = args[1]
		}

		h, err := openHandle()
		if err != nil {
			return err
		}
		defer h.Close()

		out, err := h.Invoke(args[0], in)
		if err != nil {
			return fmt.Errorf("invoke failed: %w", err)
		}
		if out != "" {
			fmt.Println(out)
		}
		return nil
	},
}

var idCmd = &cobra.Command{
	Use:   "id",
	Short: "Compute or convert record ids",
}

var idFileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "Hash a file's contents into a 40-hex id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := otama.IDFromFile(args[0])
		if err != nil {
			return fmt.Errorf("id_from_file failed: %w", err)
		}
		fmt.Println(id)
		return nil
	},
}

var idDataCmd = &cobra.Command{
	Use:   "data <string>",
	Short: "Hash raw bytes into a 40-hex id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(otama.IDFromData([]byte(args[0])))
		return nil
	},
}

var idBin2HexCmd = &cobra.Command{
	Use:   "bin2hex <raw-20-bytes>",
	Short: "Render a raw binary id as 40-hex",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hex, err := otama.IDBin2Hex([]byte(args[0]))
		if err != nil {
			return fmt.Errorf("id_bin2hex failed: %w", err)
		}
		fmt.Println(hex)
		return nil
	},
}

var idHex2BinCmd = &cobra.Command{
	Use:   "hex2bin <hex>",
	Short: "Decode a 40-hex id into its raw binary form",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bin, err := otama.IDHex2Bin(args[0])
		if err != nil {
			return fmt.Errorf("id_hex2bin failed: %w", err)
		}
		os.Stdout.Write(bin)
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "otama YAML configuration file")

	insertCmd.Flags().String("id", "", "insert by existing id")
	insertCmd.Flags().String("string", "", "insert a serialized feature string")
	insertCmd.Flags().String("file", "", "insert from an image file (requires external feature extraction)")

	searchCmd.Flags().String("id", "", "search by existing id")
	searchCmd.Flags().String("string", "", "search by a serialized feature string")
	searchCmd.Flags().String("file", "", "search by an image file (requires external feature extraction)")
	searchCmd.Flags().Int("top-n", 10, "number of results")
	searchCmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")

	similarityCmd.Flags().String("a", "", "first record id")
	similarityCmd.Flags().String("b", "", "second record id")

	dropDatabaseCmd.Flags().Bool("force", false, "skip confirmation prompt")
	databaseCmd.AddCommand(createDatabaseCmd, dropDatabaseCmd)

	idCmd.AddCommand(idFileCmd, idDataCmd, idBin2HexCmd, idHex2BinCmd)

	rootCmd.AddCommand(
		insertCmd,
		existsCmd,
		removeCmd,
		searchCmd,
		similarityCmd,
		pullCmd,
		vacuumCmd,
		countCmd,
		databaseCmd,
		dropIndexCmd,
		setCmd,
		getCmd,
		unsetCmd,
		invokeCmd,
		idCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
