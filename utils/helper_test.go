package utils_test

import (
	"testing"

	"github.com/mmdatafocus/stockcount_backend/models"
	"github.com/mmdatafocus/stockcount_backend/utils"
)

func TestNormalizeKey(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"a1", "A1"},
		{"  a1  ", "A1"},
		{"sku-001", "SKU-001"},
		{"\tB2 \n", "B2"},
		{"", ""},
		{"   ", ""},
	}
	for _, tc := range cases {
		if got := utils.NormalizeKey(tc.in); got != tc.want {
			t.Errorf("NormalizeKey(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestGetTypeName(t *testing.T) {
	if got := utils.GetTypeName[models.StockCount](); got != "StockCount" {
		t.Fatalf("GetTypeName[StockCount] = %q", got)
	}
	if got := utils.GetTypeName[models.CatalogItem](); got != "CatalogItem" {
		t.Fatalf("GetTypeName[CatalogItem] = %q", got)
	}
}
