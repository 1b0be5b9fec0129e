package auth

import (
	"fmt"
	"strings"
)

// ShowLinkGuide displays step-by-step instructions for linking an account
func ShowLinkGuide() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("LINKING A SOURCE ACCOUNT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()

	fmt.Println("mediadex needs credentials for each source it syncs from.")
	fmt.Println()

	fmt.Println("CHAT ARCHIVE (bearer token):")
	fmt.Println("   1. Sign in to your archive server's web UI")
	fmt.Println("   2. Open Settings -> API Access and create a token")
	fmt.Println("   3. Link it here:")
	fmt.Println()
	fmt.Println("      mediadex accounts add --name home \\")
	fmt.Println("        --source chatarchive \\")
	fmt.Println("        --server https://archive.example.net")
	fmt.Println()
	fmt.Println("   You will be prompted for the token; it is never echoed.")
	fmt.Println()

	fmt.Println("IPTV PANEL (username + password):")
	fmt.Println("   1. Use the portal URL and login your provider gave you")
	fmt.Println("   2. Link it here:")
	fmt.Println()
	fmt.Println("      mediadex accounts add --name tv \\")
	fmt.Println("        --source paneltv \\")
	fmt.Println("        --server http://portal.example.net:8080 \\")
	fmt.Println("        --username your_login")
	fmt.Println()

	fmt.Println("TIPS:")
	fmt.Println("   - Tokens expire; re-run accounts add with the same name to rotate")
	fmt.Println("   - Secrets land in your system keychain when one is available,")
	fmt.Println("     otherwise in an encrypted file under your config directory")
	fmt.Println("   - For containers, set MEDIADEX_SERVER_URL / MEDIADEX_SECRET")
	fmt.Println("     (plus MEDIADEX_SOURCE and MEDIADEX_USERNAME as needed)")
	fmt.Println()

	fmt.Println("SECURITY:")
	fmt.Println("   - These credentials grant full access to the source account")
	fmt.Println("   - mediadex never sends them anywhere but the server you name")
	fmt.Println()
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()
}

// ShowQuickLinkGuide shows a condensed version for experienced users
func ShowQuickLinkGuide() {
	fmt.Println("\nQuick link: mediadex accounts add --name <n> --source chatarchive|paneltv --server <url> [--username <u>]")
	fmt.Println("   Type 'mediadex accounts guide' for the full guide")
}
