// Package config handles loading and validating Wagerline access core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with WAGERLINE_* environment variables
//   - Validation of required fields and policy constants
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (JWT secret, broker and Redis passwords) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Admission.PremiumMaxDevices)
package config
