package hardware

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/hx711"
	"periph.io/x/host/v3"

	"github.com/okian/iotreat/internal/domain/calibration"
	"github.com/okian/iotreat/pkg/logger"
)

// GPIOConfig names the pins and tuning of the reference build: servo on
// GPIO18, motor relay on GPIO23, HX711 DOUT/SCK on GPIO5/GPIO6.
type GPIOConfig struct {
	ServoPin        string
	RelayPin        string
	DoutPin         string
	SckPin          string
	ServoOpenDuty   float64
	ServoClosedDuty float64
	ServoSettle     time.Duration
	ReadTimeout     time.Duration
	Offset          int32
	Scale           float64
}

// OpenGPIO initialises the host drivers and returns the lid and load cell.
// The lid is commanded closed before it is returned.
func OpenGPIO(ctx context.Context, cfg GPIOConfig) (*Lid, *LoadCell, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrHostInit, err)
	}

	servo, err := pinByName(cfg.ServoPin)
	if err != nil {
		return nil, nil, err
	}
	var relay gpio.PinOut
	if cfg.RelayPin != "" {
		if relay, err = pinByName(cfg.RelayPin); err != nil {
			return nil, nil, err
		}
	}
	dout, err := pinByName(cfg.DoutPin)
	if err != nil {
		return nil, nil, err
	}
	sck, err := pinByName(cfg.SckPin)
	if err != nil {
		return nil, nil, err
	}

	adc, err := hx711.New(sck, dout)
	if err != nil {
		return nil, nil, fmt.Errorf("hx711: %w", err)
	}
	conv, err := calibration.New(
		calibration.WithOffset(float64(cfg.Offset)),
		calibration.WithScale(cfg.Scale),
	)
	if err != nil {
		return nil, nil, err
	}

	lid := NewLid(servo, relay,
		WithDuty(cfg.ServoOpenDuty, cfg.ServoClosedDuty),
		WithSettle(cfg.ServoSettle),
	)
	if err := lid.Close(ctx); err != nil {
		return nil, nil, fmt.Errorf("initial close: %w", err)
	}
	cell := NewLoadCell(adc, conv, WithReadTimeout(cfg.ReadTimeout))

	logger.Get().Named("hardware").Info(ctx, "gpio hardware ready",
		logger.String("servo", cfg.ServoPin),
		logger.String("relay", cfg.RelayPin),
		logger.String("hx711_dout", cfg.DoutPin),
		logger.String("hx711_sck", cfg.SckPin),
	)
	return lid, cell, nil
}

func pinByName(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%w: %q", ErrPinNotFound, name)
	}
	return p, nil
}
