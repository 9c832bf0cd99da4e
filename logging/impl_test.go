package logging

import (
	"encoding/json"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

func TestSubloggerNaming(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	sub := logger.Sublogger("registration")
	subsub := sub.Sublogger("icp")

	subsub.Infow("iteration", "n", 3)
	test.That(t, logs.Len(), test.ShouldEqual, 1)
	entry := logs.All()[0]
	test.That(t, entry.LoggerName, test.ShouldEqual, "registration.icp")
	test.That(t, entry.Message, test.ShouldEqual, "iteration")
	test.That(t, entry.ContextMap()["n"], test.ShouldEqual, int64(3))
}

func TestLevelFiltering(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	sub := logger.Sublogger("quiet")
	sub.SetLevel(WARN)
	test.That(t, sub.GetLevel(), test.ShouldEqual, WARN)

	sub.Debug("dropped")
	sub.Info("dropped")
	sub.Warn("kept")
	sub.Errorf("kept %d", 2)
	test.That(t, logs.Len(), test.ShouldEqual, 2)

	// the parent keeps its own level
	logger.Debug("parent debug")
	test.That(t, logs.Len(), test.ShouldEqual, 3)
}

func TestSubloggerMoreVerboseThanParent(t *testing.T) {
	logger := NewLogger("root")
	sub := logger.Sublogger("verbose")
	sub.SetLevel(DEBUG)

	enabled := func(l Logger) bool {
		return l.(*impl).AsZap().Desugar().Core().Enabled(zapcore.DebugLevel)
	}
	test.That(t, enabled(sub), test.ShouldBeTrue)
	test.That(t, enabled(logger), test.ShouldBeFalse)
	test.That(t, logger.GetLevel(), test.ShouldEqual, INFO)
}

func TestBlankLoggerDiscards(t *testing.T) {
	logger := NewBlankLogger("blank")
	logger.Errorw("nothing", "k", "v")
	test.That(t, logger.Sync(), test.ShouldBeNil)
}

func TestLevelStrings(t *testing.T) {
	for _, lvl := range []Level{DEBUG, INFO, WARN, ERROR} {
		parsed, err := LevelFromString(lvl.String())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, parsed, test.ShouldEqual, lvl)
		test.That(t, LevelFromZap(lvl.AsZap()), test.ShouldEqual, lvl)
	}

	_, err := LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)

	var lvl Level
	test.That(t, json.Unmarshal([]byte(`"warn"`), &lvl), test.ShouldBeNil)
	test.That(t, lvl, test.ShouldEqual, WARN)
	out, err := json.Marshal(ERROR)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(out), test.ShouldEqual, `"error"`)
}
