package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/pable/go-rl-metrics/internal/config"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load("")

			convey.Convey("Then the tuned defaults are returned", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.LogLevel, convey.ShouldEqual, "info")
				convey.So(cfg.Stream.HesitationEnter, convey.ShouldEqual, 0.72)
				convey.So(cfg.Stream.WhiffCloseMiss, convey.ShouldEqual, 420.0)
				convey.So(cfg.Stream.WhiffTouchSuppress, convey.ShouldEqual, 185.0)
				convey.So(cfg.Stream.OpportunityWeights.Progress, convey.ShouldEqual, 0.35)
				convey.So(cfg.Refine.GatesRequired, convey.ShouldEqual, 2)
				convey.So(cfg.Refine.Cooldown, convey.ShouldEqual, 0.8)
				convey.So(cfg.Grade.Cooldowns.AerialOffense, convey.ShouldEqual, 1.8)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("RLMETRICS_LOG_LEVEL", "debug")
			_ = os.Setenv("RLMETRICS_STREAM__WHIFF_COOLDOWN_S", "1.5")
			_ = os.Setenv("RLMETRICS_REFINE__GATES_REQUIRED", "3")
			defer clearConfigEnvVars()

			cfg, err := config.Load("")

			convey.Convey("Then env vars override defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.LogLevel, convey.ShouldEqual, "debug")
				convey.So(cfg.Stream.WhiffCooldown, convey.ShouldEqual, 1.5)
				convey.So(cfg.Refine.GatesRequired, convey.ShouldEqual, 3)
				convey.So(cfg.Stream.WhiffCloseMiss, convey.ShouldEqual, 420.0)
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			clearConfigEnvVars()
			path := writeTempConfig(t, `
log_level: warn
stream:
  hesitation_enter: 0.8
  opportunity_weights:
    near: 0.3
grade:
  cooldowns:
    challenge: 2.0
`)

			cfg, err := config.Load(path)

			convey.Convey("Then file values override defaults and untouched keys keep theirs", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.LogLevel, convey.ShouldEqual, "warn")
				convey.So(cfg.Stream.HesitationEnter, convey.ShouldEqual, 0.8)
				convey.So(cfg.Stream.OpportunityWeights.Near, convey.ShouldEqual, 0.3)
				convey.So(cfg.Stream.OpportunityWeights.Intent, convey.ShouldEqual, 0.25)
				convey.So(cfg.Grade.Cooldowns.Challenge, convey.ShouldEqual, 2.0)
				convey.So(cfg.Grade.Cooldowns.Shadow, convey.ShouldEqual, 1.2)
			})

			convey.Convey("And env vars take precedence over the file", func() {
				_ = os.Setenv("RLMETRICS_STREAM__HESITATION_ENTER", "0.9")
				defer clearConfigEnvVars()

				cfg, err := config.Load(path)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Stream.HesitationEnter, convey.ShouldEqual, 0.9)
			})
		})

		convey.Convey("When the file path comes from RLMETRICS_CONFIG", func() {
			path := writeTempConfig(t, "log_level: error\n")
			_ = os.Setenv("RLMETRICS_CONFIG", path)
			defer clearConfigEnvVars()

			cfg, err := config.Load("")

			convey.Convey("Then it is used", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.LogLevel, convey.ShouldEqual, "error")
			})
		})

		convey.Convey("When the file does not exist", func() {
			clearConfigEnvVars()

			_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))

			convey.Convey("Then a load error is returned", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the bands are inverted", func() {
			clearConfigEnvVars()
			path := writeTempConfig(t, "stream:\n  whiff_touch_suppress: 500\n")

			_, err := config.Load(path)

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rlmetrics.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearConfigEnvVars() {
	for _, k := range []string{
		"RLMETRICS_CONFIG",
		"RLMETRICS_LOG_LEVEL",
		"RLMETRICS_STREAM__WHIFF_COOLDOWN_S",
		"RLMETRICS_STREAM__HESITATION_ENTER",
		"RLMETRICS_REFINE__GATES_REQUIRED",
	} {
		_ = os.Unsetenv(k)
	}
}
