package notify_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/okian/churngym/internal/adapters/notify"
	"github.com/okian/churngym/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeSender struct {
	fail int
	sent []tgbotapi.MessageConfig
	hits int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.hits++
	if f.hits <= f.fail {
		return tgbotapi.Message{}, errors.New("telegram: Too Many Requests")
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{MessageID: f.hits}, nil
}

func predicted(id string, p float64, risk model.RiskLevel) model.Prediction {
	return model.Prediction{
		MemberID:         id,
		ChurnProbability: p,
		ChurnLabel:       1,
		RiskLevel:        risk,
		ThresholdUsed:    0.5,
		PredictedAt:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTelegramNotifier(t *testing.T) {
	Convey("Given a notifier", t, func() {
		ctx := context.Background()
		sender := &fakeSender{}
		n := notify.NewNotifier(sender, 42, notify.WithLimit(2), notify.WithRetry(3, 0))

		Convey("When no prediction is high risk", func() {
			err := n.NotifyHighRisk(ctx, []model.Prediction{predicted("a", 0.5, model.RiskMedium)})

			Convey("Then nothing is sent", func() {
				So(err, ShouldBeNil)
				So(sender.hits, ShouldEqual, 0)
			})
		})

		Convey("When several members are high risk", func() {
			err := n.NotifyHighRisk(ctx, []model.Prediction{
				predicted("M-1", 0.71, model.RiskHigh),
				predicted("M-2", 0.2, model.RiskLow),
				predicted("M-3", 0.93, model.RiskHigh),
				predicted("M-4", 0.8, model.RiskHigh),
			})
			So(err, ShouldBeNil)
			So(sender.sent, ShouldHaveLength, 1)
			msg := sender.sent[0]

			Convey("Then one MarkdownV2 message goes to the chat", func() {
				So(msg.ChatID, ShouldEqual, int64(42))
				So(msg.ParseMode, ShouldEqual, "MarkdownV2")
			})

			Convey("Then the riskiest members are listed up to the limit", func() {
				So(msg.Text, ShouldContainSubstring, "1\\. `M-3` *93\\.0%*")
				So(msg.Text, ShouldContainSubstring, "2\\. `M-4` *80\\.0%*")
				So(msg.Text, ShouldNotContainSubstring, "M-1")
				So(msg.Text, ShouldNotContainSubstring, "M-2")
				So(msg.Text, ShouldContainSubstring, "and 1 more")
			})
		})

		Convey("When Telegram fails transiently", func() {
			sender.fail = 2
			err := n.NotifyHighRisk(ctx, []model.Prediction{predicted("a", 0.9, model.RiskHigh)})

			Convey("Then the send is retried", func() {
				So(err, ShouldBeNil)
				So(sender.hits, ShouldEqual, 3)
				So(sender.sent, ShouldHaveLength, 1)
			})
		})

		Convey("When Telegram keeps failing", func() {
			sender.fail = 10
			err := n.NotifyHighRisk(ctx, []model.Prediction{predicted("a", 0.9, model.RiskHigh)})

			Convey("Then the error is returned after the last attempt", func() {
				So(errors.Is(err, notify.ErrSend), ShouldBeTrue)
				So(sender.hits, ShouldEqual, 3)
			})
		})
	})
}

func TestNewTelegramNotifier(t *testing.T) {
	Convey("Given invalid credentials", t, func() {
		_, err := notify.NewTelegramNotifier("", "1")
		So(errors.Is(err, notify.ErrNotifierConfig), ShouldBeTrue)

		_, err = notify.NewTelegramNotifier("token", "not-a-number")
		So(errors.Is(err, notify.ErrNotifierConfig), ShouldBeTrue)
	})
}

func TestMessageEscaping(t *testing.T) {
	Convey("Given member ids with reserved characters", t, func() {
		sender := &fakeSender{}
		n := notify.NewNotifier(sender, 1)
		err := n.NotifyHighRisk(context.Background(), []model.Prediction{predicted("a_b.c", 0.75, model.RiskHigh)})
		So(err, ShouldBeNil)

		Convey("Then only code-span characters are escaped inside the id", func() {
			text := sender.sent[0].Text
			So(text, ShouldContainSubstring, "`a_b.c`")
			So(text, ShouldContainSubstring, "75\\.0%")
			So(strings.Count(text, "\n") > 2, ShouldBeTrue)
			So(text, ShouldContainSubstring, "2024\\-05\\-01 12:00:00")
		})
	})
}
