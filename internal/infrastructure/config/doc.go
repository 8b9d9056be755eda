// Package config handles loading and validating Tailnet Monitor configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (API keys, tokens, passwords) are set via environment variables
//   - Entity seeds name the variable holding their Tailscale API key (api_key_env);
//     keys are never read from the file itself
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Poller.Interval)
package config
