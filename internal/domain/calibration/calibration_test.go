package calibration_test

import (
	"errors"
	"math"
	"testing"

	calibration "github.com/okian/iotreat/internal/domain/calibration"
	. "github.com/smartystreets/goconvey/convey"
)

func TestConverter_Grams(t *testing.T) {
	Convey("Given the default calibration", t, func() {
		c, err := calibration.New()
		So(err, ShouldBeNil)

		Convey("When the raw count equals the offset", func() {
			g := c.Grams(calibration.DefaultOffset)

			Convey("Then the mass should be zero", func() {
				So(g, ShouldEqual, 0)
			})
		})

		Convey("When the raw count is 50 grams above the offset", func() {
			raw := int32(calibration.DefaultOffset + 50*calibration.DefaultScale)
			g := c.Grams(raw)

			Convey("Then the mass should be about 50 grams", func() {
				So(g, ShouldAlmostEqual, 50, 0.01)
			})
		})

		Convey("When the raw count is below the zero-load point", func() {
			g := c.Grams(calibration.DefaultOffset - 10000)

			Convey("Then the mass should be clamped to zero", func() {
				So(g, ShouldEqual, 0)
			})
		})
	})
}

func TestConverter_Options(t *testing.T) {
	Convey("Given custom calibration options", t, func() {
		Convey("When offset and scale are set", func() {
			c, err := calibration.New(calibration.WithOffset(1000), calibration.WithScale(10))

			Convey("Then they should be used", func() {
				So(err, ShouldBeNil)
				So(c.Offset(), ShouldEqual, 1000)
				So(c.Scale(), ShouldEqual, 10)
				So(c.Grams(1250), ShouldEqual, 25)
			})
		})

		Convey("When the scale is unusable", func() {
			for _, s := range []float64{0, math.NaN(), math.Inf(1)} {
				_, err := calibration.New(calibration.WithScale(s))
				So(errors.Is(err, calibration.ErrInvalidScale), ShouldBeTrue)
			}
		})
	})
}
