package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"mediadex/pkg/auth"
	"mediadex/pkg/checkpoint"
	"mediadex/pkg/models"
	"mediadex/pkg/ui"
)

var (
	addName     string
	addSource   string
	addServer   string
	addUsername string
)

// accountsCmd represents the accounts command
var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage stored source accounts",
	Long: `Manage the accounts mediadex syncs from.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with scrypt key derivation
  - Environment variables (for containers and CI)

Never share your credentials or config files!`,
}

// accountsAddCmd represents the accounts add command
var accountsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Link a source account",
	Long: `Store a source account securely in the system keychain or encrypted file.

A chat archive needs a server URL and an access token. A panel needs a
server URL, a username, and a password. Secrets are always prompted for
and never echoed; they cannot be passed as flags.`,
	Example: `  # Link a chat archive
  mediadex accounts add --name home --source chatarchive --server https://archive.example.net

  # Link a panel
  mediadex accounts add --name tv --source paneltv --server http://tv.example.net:8080 --username fam`,
	Args: cobra.NoArgs,
	Run:  runAccountsAdd,
}

// accountsListCmd represents the accounts list command
var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored accounts",
	Long:  `List all stored accounts with sanitized credential information.`,
	Run:   runAccountsList,
}

// accountsRemoveCmd represents the accounts remove command
var accountsRemoveCmd = &cobra.Command{
	Use:     "remove [name]",
	Aliases: []string{"rm"},
	Short:   "Remove a stored account",
	Long: `Remove a stored account and its sync state.

If no name is provided, you will be shown a list of stored accounts to
choose from. You can also remove all accounts at once. Removing an
account also removes its checkpoints, so linking it again starts with a
full scan.`,
	Example: `  # Interactive removal
  mediadex accounts remove

  # Remove a specific account
  mediadex accounts remove tv`,
	Args: cobra.MaximumNArgs(1),
	Run:  runAccountsRemove,
}

// accountsGuideCmd represents the accounts guide command
var accountsGuideCmd = &cobra.Command{
	Use:   "guide",
	Short: "Show the full account linking guide",
	Run: func(cmd *cobra.Command, args []string) {
		auth.ShowLinkGuide()
	},
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsAddCmd)
	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsRemoveCmd)
	accountsCmd.AddCommand(accountsGuideCmd)

	accountsAddCmd.Flags().StringVar(&addName, "name", "", "account name (defaults to 'default')")
	accountsAddCmd.Flags().StringVar(&addSource, "source", string(models.SourceChatArchive), "source type (chatarchive, paneltv)")
	accountsAddCmd.Flags().StringVar(&addServer, "server", "", "server base URL")
	accountsAddCmd.Flags().StringVar(&addUsername, "username", "", "panel username (paneltv only)")
}

func runAccountsAdd(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize credential manager", err.Error())
		os.Exit(1)
	}

	var sourceType models.SourceType
	switch strings.ToLower(addSource) {
	case string(models.SourceChatArchive):
		sourceType = models.SourceChatArchive
	case string(models.SourcePanelTV):
		sourceType = models.SourcePanelTV
	default:
		ui.PrintError("Unknown source type", fmt.Sprintf("%q is not one of: chatarchive, paneltv", addSource))
		os.Exit(1)
	}

	reader := bufio.NewReader(os.Stdin)

	// First-time users get the short guide before any prompts
	if addServer == "" {
		auth.ShowQuickLinkGuide()
		fmt.Println()
	}

	name := strings.TrimSpace(addName)
	if name == "" {
		fmt.Print("Account name [default]: ")
		input, _ := reader.ReadString('\n')
		name = strings.TrimSpace(input)
		if name == "" {
			name = "default"
		}
	}

	server := strings.TrimSpace(addServer)
	if server == "" {
		fmt.Print("🌐 Server URL: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			ui.PrintError("Failed to read server URL", err.Error())
			os.Exit(1)
		}
		server = strings.TrimSpace(input)
	}
	if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
		ui.PrintError("Invalid server URL", "must start with http:// or https://")
		os.Exit(1)
	}

	username := strings.TrimSpace(addUsername)
	if sourceType == models.SourcePanelTV && username == "" {
		fmt.Print("📺 Panel username: ")
		input, _ := reader.ReadString('\n')
		username = strings.TrimSpace(input)
		if username == "" {
			ui.PrintError("Username is required for panel accounts", "")
			os.Exit(1)
		}
	}

	// Check if account already exists
	if existing, _ := manager.Retrieve(name); existing != nil {
		fmt.Printf("\n⚠️  Account '%s' already exists. Update credentials? (y/N): ", name)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return
		}
	}

	secretLabel := "Access token"
	if sourceType == models.SourcePanelTV {
		secretLabel = "Panel password"
	}

	fmt.Println("\n🔐 Enter your secret (it will be hidden as you type):")
	fmt.Println()

	var secret string
	for {
		fmt.Printf("%s: ", secretLabel)
		secret, err = readPassword()
		if err != nil {
			ui.PrintError("Failed to read secret", err.Error())
			os.Exit(1)
		}
		if secret != "" {
			break
		}

		fmt.Println("\n❌ The secret cannot be empty.")
		fmt.Print("\nTry again? (Y/n): ")
		retry, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(retry)) == "n" {
			os.Exit(1)
		}
	}

	// Show what we're about to do
	fmt.Println("\n📋 Summary:")
	fmt.Printf("   Name: %s\n", name)
	fmt.Printf("   Source: %s\n", sourceType)
	fmt.Printf("   Server: %s\n", server)
	if username != "" {
		fmt.Printf("   Username: %s\n", username)
	}
	fmt.Printf("   %s: %s (hidden)\n", secretLabel, maskSecret(secret))

	account := &auth.Account{
		Name:         name,
		Source:       sourceType,
		ServerURL:    server,
		Username:     username,
		Secret:       secret,
		LastModified: time.Now(),
	}

	fmt.Println("\n💾 Storing credentials securely...")
	if err := manager.Store(account); err != nil {
		ui.PrintError("Failed to store credentials", err.Error())
		os.Exit(1)
	}

	accounts, _ := manager.List()
	if len(accounts) == 1 {
		// First account becomes default automatically
		fmt.Printf("✅ Set '%s' as default account\n", name)
	}

	ui.PrintSuccess(fmt.Sprintf("Account saved: %s", name))

	fmt.Println("\n🔒 Security Information:")
	fmt.Println("   Your credentials are encrypted and stored in:")
	if auth.IsKeyringAvailable() {
		fmt.Println("   • System keychain (primary)")
	}
	fmt.Println("   • Encrypted file (backup)")

	fmt.Println("\n📖 Next steps:")
	fmt.Println("   Sync the catalog:")
	fmt.Printf("   $ mediadex sync --account %s\n", name)
	fmt.Println("\n   Then search it:")
	fmt.Printf("   $ mediadex search <query>\n")
	fmt.Println("\n⚠️  Never share your credentials or config files!")
}

func runAccountsList(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize credential manager", err.Error())
		os.Exit(1)
	}

	accounts, err := manager.List()
	if err != nil {
		ui.PrintError("Failed to list accounts", err.Error())
		os.Exit(1)
	}

	if len(accounts) == 0 {
		ui.PrintInfo("No stored accounts", "Use 'mediadex accounts add' to link one")
		return
	}

	ui.PrintHighlight("Stored Accounts")
	fmt.Println()

	for i, account := range accounts {
		sanitized := auth.SanitizeAccount(account)
		fmt.Printf("%d. %s (%s)\n", i+1, sanitized.Name, sanitized.Source)
		fmt.Printf("   Server: %s\n", sanitized.ServerURL)
		if sanitized.Username != "" {
			fmt.Printf("   Username: %s\n", sanitized.Username)
		}
		fmt.Printf("   Secret: %s\n", sanitized.Secret)
		fmt.Printf("   Last Modified: %s\n", sanitized.LastModified.Format("2006-01-02 15:04:05"))
		fmt.Println()
	}
}

func runAccountsRemove(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize credential manager", err.Error())
		os.Exit(1)
	}

	// Name provided as argument
	if len(args) > 0 {
		name := args[0]
		account, err := manager.Retrieve(name)
		if err != nil {
			ui.PrintError("Account not found", name)
			os.Exit(1)
		}
		removeAccount(manager, account)
		return
	}

	// List accounts and ask which to remove
	accounts, err := manager.List()
	if err != nil || len(accounts) == 0 {
		ui.PrintError("No stored accounts found", "")
		return
	}

	reader := bufio.NewReader(os.Stdin)

	if len(accounts) == 1 {
		// Only one account, confirm deletion
		account := accounts[0]
		fmt.Printf("Remove account '%s'? (y/N): ", account.Name)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return
		}
		removeAccount(manager, account)
		return
	}

	// Multiple accounts, show menu
	fmt.Println("Select account to remove:")
	for i, account := range accounts {
		fmt.Printf("  %d. %s (%s)\n", i+1, account.Name, account.Source)
	}
	fmt.Printf("  %d. Remove all accounts\n", len(accounts)+1)
	fmt.Printf("  0. Cancel\n\n")

	fmt.Print("Choice: ")
	input, _ := reader.ReadString('\n')

	var choice int
	fmt.Sscanf(strings.TrimSpace(input), "%d", &choice)

	switch {
	case choice == 0:
		return
	case choice == len(accounts)+1:
		fmt.Print("Remove ALL accounts? This cannot be undone! (yes/N): ")
		confirm, _ := reader.ReadString('\n')
		if strings.TrimSpace(confirm) != "yes" {
			return
		}

		if err := manager.DeleteAll(); err != nil {
			ui.PrintError("Failed to remove all accounts", err.Error())
			os.Exit(1)
		}
		cleanupCheckpoints(accounts...)
		ui.PrintSuccess("All accounts removed")
	case choice > 0 && choice <= len(accounts):
		removeAccount(manager, accounts[choice-1])
	default:
		ui.PrintError("Invalid choice", "")
		os.Exit(1)
	}
}

func removeAccount(manager *auth.Manager, account *auth.Account) {
	if err := manager.Delete(account.Name); err != nil {
		ui.PrintError("Failed to remove account", err.Error())
		os.Exit(1)
	}
	cleanupCheckpoints(account)
	ui.PrintSuccess("Account removed: " + account.Name)
}

// cleanupCheckpoints drops the sync state owned by removed accounts.
// Failures are warnings; the credentials are already gone.
func cleanupCheckpoints(accounts ...*auth.Account) {
	cfg, err := loadConfig(nil)
	if err != nil {
		ui.PrintWarning(fmt.Sprintf("could not load configuration to clear sync state: %v", err))
		return
	}

	ckpts, err := checkpoint.NewStore(cfg.Storage.CheckpointPath())
	if err != nil {
		ui.PrintWarning(fmt.Sprintf("could not open checkpoint store: %v", err))
		return
	}
	defer ckpts.Close()

	for _, account := range accounts {
		if err := ckpts.DeleteForAccount(account.Source, account.Name); err != nil {
			ui.PrintWarning(fmt.Sprintf("could not remove sync state for %s: %v", account.Name, err))
		}
	}
}

// readPassword reads a secret from stdin without echoing
func readPassword() (string, error) {
	// Try to read without echo
	if term.IsTerminal(int(syscall.Stdin)) {
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println() // New line after password
		if err == nil {
			return string(password), nil
		}
	}

	// Fallback to regular input
	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// maskSecret shows just enough of a secret to recognize it.
func maskSecret(secret string) string {
	if len(secret) >= 12 {
		return secret[:4] + "..." + secret[len(secret)-4:]
	}
	return "***"
}
