// Package extract pulls the product price out of an archived product page.
//
// Pages are Next.js renders: the Apollo cache is serialized into the
// <script id="__NEXT_DATA__"> element and the product lives under
// props.pageProps.apolloState.ROOT_QUERY keyed by its own product id.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
)

// DataElementID identifies the embedded state script.
const DataElementID = "__NEXT_DATA__"

// ErrMalformedData is returned when the state script is not valid JSON.
var ErrMalformedData = errors.New("malformed structured data")

// ProductKey builds the ROOT_QUERY key for a product id.
func ProductKey(productID string) string {
	return fmt.Sprintf(`product:{"productId":"%s"}`, productID)
}

// Price returns the product price embedded in content. ok is false when the
// data block or any step of the key chain is absent. err is non-nil only when
// the document or the embedded data cannot be parsed.
func Price(content []byte) (value float64, ok bool, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return 0, false, fmt.Errorf("parse html: %w", err)
	}
	script := doc.Find("script#" + DataElementID).First()
	if script.Length() == 0 {
		return 0, false, nil
	}
	raw := strings.TrimSpace(script.Text())
	if !gjson.Valid(raw) {
		return 0, false, ErrMalformedData
	}
	return priceFromState(gjson.Parse(raw))
}

func priceFromState(state gjson.Result) (float64, bool, error) {
	pageProps := state.Get("props.pageProps")
	if !pageProps.Exists() {
		return 0, false, nil
	}
	productID := pageProps.Get("id")
	if !productID.Exists() {
		return 0, false, nil
	}
	rootQuery := pageProps.Get("apolloState.ROOT_QUERY")
	if !rootQuery.IsObject() {
		return 0, false, nil
	}
	// The key contains gjson path syntax, so index the object map instead of
	// building a path.
	product, found := rootQuery.Map()[ProductKey(productID.String())]
	if !found {
		return 0, false, nil
	}
	price := product.Get("productBasicData.price")
	if !price.Exists() {
		return 0, false, nil
	}
	v := price.Get("value")
	if v.Type != gjson.Number {
		return 0, false, nil
	}
	return v.Float(), true, nil
}
