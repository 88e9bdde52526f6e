package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/okian/swapbridge/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func valid() *config.Config {
	cfg := config.New()
	cfg.Project = "supernova-hunters"
	cfg.WorkflowID = 1737
	return cfg
}

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":5000")
			convey.So(cfg.QueueSize, convey.ShouldEqual, 10_000)
			convey.So(cfg.RemoteHost, convey.ShouldEqual, "caesar.zooniverse.org")
			convey.So(cfg.RemotePort, convey.ShouldEqual, 443)
			convey.So(cfg.ReducerName, convey.ShouldEqual, "swap")
			convey.So(cfg.ReductionField, convey.ShouldEqual, "swap_score")
			convey.So(cfg.InboundUser, convey.ShouldEqual, "caesar")
			convey.So(cfg.NotifyEnabled, convey.ShouldBeTrue)
			convey.So(cfg.NotifyRetries, convey.ShouldEqual, 0)
			convey.So(cfg.NotifyTimeout(), convey.ShouldEqual, 10*time.Second)
			convey.So(cfg.NotifyBackoff(), convey.ShouldEqual, 500*time.Millisecond)
			convey.So(cfg.Project, convey.ShouldBeEmpty)
		})

		convey.Convey("Then it is not valid until a project is named", func() {
			err := cfg.Validate()
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "project")
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		key    string
	}{
		{"blank project", func(c *config.Config) { c.Project = "  " }, "project"},
		{"empty addr", func(c *config.Config) { c.Addr = "" }, "addr"},
		{"zero queue", func(c *config.Config) { c.QueueSize = 0 }, "queue_size"},
		{"negative retries", func(c *config.Config) { c.NotifyRetries = -1 }, "notify_retries"},
		{"prior out of range", func(c *config.Config) { c.ScoringPrior = 1 }, "scoring_prior"},
		{"inverted thresholds", func(c *config.Config) { c.RetireLow, c.RetireHigh = 0.9, 0.1 }, "retire_low"},
		{"missing workflow", func(c *config.Config) { c.WorkflowID = 0 }, "workflow_id"},
		{"missing reducer", func(c *config.Config) { c.ReducerName = "" }, "reducer_name"},
		{"missing field", func(c *config.Config) { c.ReductionField = "" }, "reduction_field"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, config.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
			if got := err.Error(); !strings.Contains(got, tc.key) {
				t.Errorf("expected error to name %q, got %q", tc.key, got)
			}
		})
	}

	t.Run("notifications disabled", func(t *testing.T) {
		cfg := valid()
		cfg.NotifyEnabled = false
		cfg.WorkflowID = 0
		if err := cfg.Validate(); err != nil {
			t.Errorf("workflow is only needed for notifications, got %v", err)
		}
	})
}

func TestConfig_Derived(t *testing.T) {
	convey.Convey("Given a valid config", t, func() {
		cfg := valid()
		cfg.InboundSecret = "s3cret"
		cfg.AuthUsername = "bot"
		cfg.AuthPassword = "pw"

		convey.Convey("Then address params carry the local credential", func() {
			p := cfg.AddressParams()
			convey.So(p.WorkflowID, convey.ShouldEqual, 1737)
			convey.So(p.LocalUser, convey.ShouldEqual, "caesar")
			convey.So(p.LocalSecret, convey.ShouldEqual, "s3cret")
			convey.So(p.RemoteHost, convey.ShouldEqual, "caesar.zooniverse.org")
		})

		convey.Convey("Then credentials are split by direction", func() {
			convey.So(cfg.InboundCredential().Secret, convey.ShouldEqual, "s3cret")
			convey.So(cfg.OutboundCredential().Username, convey.ShouldEqual, "bot")
		})
	})
}
