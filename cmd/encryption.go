// Copyright 2026 EmberFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/FirelightWorks/emberfs/pkg/debug"
	"github.com/FirelightWorks/emberfs/pkg/encryption"
	"github.com/FirelightWorks/emberfs/pkg/env"
	"github.com/FirelightWorks/emberfs/pkg/logger"
	"github.com/FirelightWorks/emberfs/pkg/utils"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var encryptionCmd = &cobra.Command{
	Use:   "encryption",
	Short: "Encryption-at-rest administration",
	Long: `Administer the encryption-at-rest subsystem.

Master key and keyspace settings are read from the [encryption] section of
encryption.toml. Key dictionaries live under the --dict_path root, one
directory per keyspace.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var encryptionProvisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision data key managers from configuration",
	Long: `Provision one data key manager per configured keyspace, plus the
implicit default keyspace 0, and report on the result.

Dictionaries are created where missing, and dictionaries wrapped under a
rotated-away master key are rewrapped under the current one, so this doubles
as the master key rotation step.

Example:
  emberfs encryption provision --dict_path /var/lib/emberfs/keys`,
	Run: runEncryptionProvision,
}

var encryptionDumpKeyCmd = &cobra.Command{
	Use:   "dump-key",
	Short: "Print data key metadata for a keyspace",
	Long: `Print the data keys of one keyspace: id, method, age and which key
is current. Key material is never printed.

The dictionary is opened read-only; nothing is created or rewritten. A
dictionary that needs the previous master key must be provisioned first.`,
	Run: runEncryptionDumpKey,
}

var encryptionDumpFileCmd = &cobra.Command{
	Use:   "dump-file <name>",
	Short: "Print the stored encryption parameters of a data file",
	Long: `Print how one data file is encrypted: data key id, method and IV.

The file index is opened read-only. Files unknown to the index predate
encryption and are reported as plaintext.

Example:
  emberfs encryption dump-file 000123.sst --keyspace 5`,
	Args: cobra.ExactArgs(1),
	Run:  runEncryptionDumpFile,
}

func init() {
	rootCmd.AddCommand(encryptionCmd)
	encryptionCmd.AddCommand(encryptionProvisionCmd)
	encryptionCmd.AddCommand(encryptionDumpKeyCmd)
	encryptionCmd.AddCommand(encryptionDumpFileCmd)

	f := encryptionProvisionCmd.Flags()
	f.String("dict_path", filepath.Join(os.TempDir(), "emberfs-keys"), "Root directory for key dictionaries")
	f.Bool("single", false, "Provision only the default keyspace, rooted directly at dict_path")
	f.String("debug_addr", "", "Serve /metrics and pprof on this address while provisioning")
	f.Duration("timeout", 5*time.Minute, "Abort provisioning after this long; 0 waits forever")
	viper.BindPFlags(f)

	for _, c := range []*cobra.Command{encryptionDumpKeyCmd, encryptionDumpFileCmd} {
		c.Flags().String("dict_path", filepath.Join(os.TempDir(), "emberfs-keys"), "Root directory for key dictionaries")
		c.Flags().Uint32("keyspace", 0, "Keyspace id to inspect")
		c.Flags().Bool("single", false, "Single-manager layout: the dictionary lives directly at dict_path")
	}
}

// loadEncryptionConfig reads the [encryption] section of encryption.toml on
// top of the defaults and validates it.
func loadEncryptionConfig() *encryption.EncryptionConfig {
	utils.LoadConfiguration("encryption", false)
	env.Reload()

	cfg := encryption.DefaultConfig()
	if err := viper.UnmarshalKey("encryption", &cfg); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse encryption configuration")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid encryption configuration")
	}
	if env.IsProduction() && cfg.MasterKey.IsPlaintext() {
		logger.Warn().Msg("No master key configured in production; data keys will not be protected")
	}
	return &cfg
}

func runEncryptionProvision(cmd *cobra.Command, args []string) {
	cfg := loadEncryptionConfig()
	f := NewFlagLoader(cmd)
	dictPath := f.String("dict_path")

	if err := os.MkdirAll(dictPath, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create dictionary root %s: %v\n", dictPath, err)
		os.Exit(1)
	}
	if err := utils.TestWritableDir(dictPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: dictionary root %s is not writable: %v\n", dictPath, err)
		os.Exit(1)
	}

	if addr := f.String("debug_addr"); addr != "" {
		debug.RegisterHandlerFunc("/version", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(VersionInfo())
		})
		debugServer := debug.Serve(addr)
		defer debugServer.Shutdown(cmd.Context())
	}

	// Cloud KMS calls can hang on a bad endpoint; cap the whole run.
	ctx := cmd.Context()
	if d := f.Duration("timeout"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	if f.Bool("single") {
		m, err := encryption.NewDataKeyManagerFromConfig(ctx, cfg, dictPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: provisioning failed: %v\n", err)
			os.Exit(1)
		}
		if m == nil {
			fmt.Println("Encryption is disabled; nothing to provision.")
			return
		}
		defer m.Close()

		fmt.Printf("Provisioned the default keyspace at %s\n\n", dictPath)
		printKeyspaceSummary(m.KeyspaceID(), m.DictPath(), m.IsSecure(), len(m.KeyInfos()))
		return
	}

	reg, err := encryption.NewKeyspaceRegistryFromConfig(ctx, cfg, dictPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: provisioning failed: %v\n", err)
		os.Exit(1)
	}
	if reg == nil {
		fmt.Println("Encryption is disabled; nothing to provision.")
		return
	}
	defer reg.Close()

	fmt.Printf("Provisioned %d keyspace(s) under %s\n\n", reg.Len(), dictPath)
	for _, id := range reg.Keyspaces() {
		m := reg.Get(id)
		printKeyspaceSummary(m.KeyspaceID(), m.DictPath(), m.IsSecure(), len(m.KeyInfos()))
	}
}

func printKeyspaceSummary(id uint32, dictPath string, secure bool, keys int) {
	fmt.Printf("Keyspace %d\n", id)
	fmt.Printf("  Dict path: %s\n", dictPath)
	fmt.Printf("  Secure:    %v\n", secure)
	fmt.Printf("  Data keys: %d\n", keys)
	fmt.Printf("  Dict size: %s\n", dictSize(dictPath))
}

// dictSize reports the on-disk size of a keyspace's dictionary file.
func dictSize(dictPath string) string {
	info, err := os.Stat(filepath.Join(dictPath, encryption.KeyDictFileName))
	if err != nil {
		return "unknown"
	}
	return humanize.Bytes(uint64(info.Size()))
}

// inspectKeyspace opens the read-only view selected by the shared dump
// flags.
func inspectKeyspace(cmd *cobra.Command) *encryption.Inspection {
	cfg := loadEncryptionConfig()
	dictPath, _ := cmd.Flags().GetString("dict_path")
	keyspace, _ := cmd.Flags().GetUint32("keyspace")
	single, _ := cmd.Flags().GetBool("single")

	dir := dictPath
	if !single {
		dir = filepath.Join(dictPath, strconv.FormatUint(uint64(keyspace), 10))
	} else if keyspace != encryption.DefaultKeyspaceID {
		fmt.Fprintln(os.Stderr, "Error: the single-manager layout only holds the default keyspace")
		os.Exit(1)
	}

	insp, err := encryption.Inspect(cmd.Context(), masterKeyFor(cfg, keyspace), keyspace, dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open keyspace %d at %s: %v\n", keyspace, dir, err)
		os.Exit(1)
	}
	return insp
}

// masterKeyFor picks the master key of a keyspace: the per-keyspace entry
// when configured, the top-level one otherwise.
func masterKeyFor(cfg *encryption.EncryptionConfig, id uint32) *encryption.MasterKeyConfig {
	for i := range cfg.KeyspaceKeys {
		if cfg.KeyspaceKeys[i].KeyspaceID == id {
			return &cfg.KeyspaceKeys[i].MasterKey
		}
	}
	return &cfg.MasterKey
}

func runEncryptionDumpKey(cmd *cobra.Command, args []string) {
	insp := inspectKeyspace(cmd)
	defer insp.Close()

	infos := insp.KeyInfos()
	fmt.Printf("Keyspace %d (%s)\n", insp.KeyspaceID(), insp.DictPath())
	fmt.Printf("  Secure:    %v\n", insp.IsSecure())
	fmt.Printf("  Dict size: %s\n", dictSize(insp.DictPath()))
	fmt.Printf("  Data keys: %d\n\n", len(infos))

	for _, info := range infos {
		marker := " "
		if info.Current {
			marker = "*"
		}
		fmt.Printf("%s %s  %-10s  created %s\n", marker, info.ID, info.Method, humanize.Time(info.CreationTime))
	}
}

func runEncryptionDumpFile(cmd *cobra.Command, args []string) {
	insp := inspectKeyspace(cmd)
	defer insp.Close()

	name := args[0]
	info, err := insp.File(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to look up %s: %v\n", name, err)
		os.Exit(1)
	}

	fmt.Printf("File:     %s\n", name)
	fmt.Printf("Keyspace: %d\n", insp.KeyspaceID())
	fmt.Printf("Method:   %s\n", info.Method)
	if info.Method == encryption.MethodPlaintext {
		fmt.Println("\nThe file is not tracked; it predates encryption or encryption is off.")
		return
	}
	fmt.Printf("Key ID:   %s\n", info.KeyID)
	fmt.Printf("IV:       %s (%s)\n", hex.EncodeToString(info.Iv), humanize.Bytes(uint64(len(info.Iv))))
}
