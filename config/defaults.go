package config

// Default returns the default daemon configuration.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Store: StoreConfig{
			Backend:        BackendBadger,
			MaxSlots:       512,
			MaxForeign:     64,
			KDFMemory:      64 * 1024,
			KDFIterations:  3,
			KDFParallelism: 4,
		},
		Wallet: WalletConfig{
			EntropyBits:       256,
			Curve:             "secp256k1",
			IterationExponent: 1,
		},
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       8745,
			AllowedIPs: []string{"127.0.0.1"},
			Metrics:    true,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}
