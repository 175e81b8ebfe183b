package main

import (
	"testing"

	_ "github.com/odyssey-erp/facilityops/internal/testing/guard"
)

func TestWorkerSkipsStartupInTestMode(t *testing.T) {
	main()
}
