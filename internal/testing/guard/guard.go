// Package guard switches the binaries into test mode. Tests of main packages import it
// for its side effect.
package guard

import "github.com/consignhub/consignhub/internal/app"

func init() {
	app.EnableTestMode()
}
