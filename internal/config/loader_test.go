package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/okian/swapbridge/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()

		convey.Convey("When loading with defaults and only the required keys", func() {
			setRequired()
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":5000")
				convey.So(cfg.Project, convey.ShouldEqual, "supernova-hunters")
				convey.So(cfg.WorkflowID, convey.ShouldEqual, 1737)
				convey.So(cfg.QueueSize, convey.ShouldEqual, 10_000)
			})
		})

		convey.Convey("When the project is missing", func() {
			_ = os.Setenv("SWAPBRIDGE_WORKFLOW_ID", "1737")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then startup must not proceed", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "project must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			setRequired()
			_ = os.Setenv("SWAPBRIDGE_ADDR", ":8080")
			_ = os.Setenv("SWAPBRIDGE_QUEUE_SIZE", "500")
			_ = os.Setenv("SWAPBRIDGE_INBOUND_SECRET", "abc123")
			_ = os.Setenv("SWAPBRIDGE_NOTIFY_RETRIES", "2")
			_ = os.Setenv("SWAPBRIDGE_AUTH_INTERACTIVE", "true")
			_ = os.Setenv("SWAPBRIDGE_SCORING_PRIOR", "0.3")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 500)
				convey.So(cfg.InboundSecret, convey.ShouldEqual, "abc123")
				convey.So(cfg.NotifyRetries, convey.ShouldEqual, 2)
				convey.So(cfg.AuthInteractive, convey.ShouldBeTrue)
				convey.So(cfg.ScoringPrior, convey.ShouldEqual, 0.3)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			tmpFile := createTempConfigFile(`
project: "galaxy-zoo"
workflow_id: 42
addr: ":9090"
queue_size: 300
reducer_name: "swap-v2"
archive_path: "/var/lib/swap/archive.db"
`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("SWAPBRIDGE_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Project, convey.ShouldEqual, "galaxy-zoo")
				convey.So(cfg.WorkflowID, convey.ShouldEqual, 42)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 300)
				convey.So(cfg.ReducerName, convey.ShouldEqual, "swap-v2")
				convey.So(cfg.ArchivePath, convey.ShouldEqual, "/var/lib/swap/archive.db")
				convey.So(cfg.ReductionField, convey.ShouldEqual, "swap_score") // From defaults
			})
		})

		convey.Convey("When an explicit path is given", func() {
			fromEnv := createTempConfigFile("project: env-file\nworkflow_id: 1\n")
			explicit := createTempConfigFile("project: flag-file\nworkflow_id: 2\n")
			defer func() { _ = os.Remove(fromEnv); _ = os.Remove(explicit) }()
			_ = os.Setenv("SWAPBRIDGE_CONFIG", fromEnv)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, explicit)

			convey.Convey("Then it wins over SWAPBRIDGE_CONFIG", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Project, convey.ShouldEqual, "flag-file")
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			tmpFile := createTempConfigFile(`
project: "galaxy-zoo"
workflow_id: 42
addr: ":9090"
queue_size: 300
`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("SWAPBRIDGE_CONFIG", tmpFile)
			_ = os.Setenv("SWAPBRIDGE_ADDR", ":8080")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")   // Overridden by env
				convey.So(cfg.QueueSize, convey.ShouldEqual, 300) // From file
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("SWAPBRIDGE_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			cfg, err := config.Load(ctx, "/non/existent/file.yaml")

			convey.Convey("Then it should return an error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			setRequired()
			_ = os.Setenv("SWAPBRIDGE_ADDR", "")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then it should return a validation error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			setRequired()
			_ = os.Setenv("SWAPBRIDGE_QUEUE_SIZE", "invalid")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

// Helper functions.

var configEnvVars = []string{
	"SWAPBRIDGE_CONFIG",
	"SWAPBRIDGE_PROJECT",
	"SWAPBRIDGE_WORKFLOW_ID",
	"SWAPBRIDGE_ADDR",
	"SWAPBRIDGE_QUEUE_SIZE",
	"SWAPBRIDGE_INBOUND_SECRET",
	"SWAPBRIDGE_NOTIFY_RETRIES",
	"SWAPBRIDGE_AUTH_INTERACTIVE",
	"SWAPBRIDGE_SCORING_PRIOR",
}

func setRequired() {
	_ = os.Setenv("SWAPBRIDGE_PROJECT", "supernova-hunters")
	_ = os.Setenv("SWAPBRIDGE_WORKFLOW_ID", "1737")
}

func clearConfigEnvVars() {
	for _, envVar := range configEnvVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "swapbridge-config-*.yaml")
	if err != nil {
		panic(err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}
	if err := tmpFile.Close(); err != nil {
		panic(err)
	}
	return tmpFile.Name()
}
