package overpass

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"mapahead/internal/model"
)

func newCandidate(lat, lon float64, tags map[string]string, category string, cat Category) model.Candidate {
	name := tags["name"]
	if name == "" {
		name = cat.DefaultName
	}
	url := tags["website"]
	if url == "" {
		url = tags["url"]
	}
	c := model.Candidate{
		Lat:          lat,
		Lon:          lon,
		Name:         name,
		Category:     category,
		OpeningHours: tags["opening_hours"],
		URL:          url,
		MapsLink:     mapsLink(lat, lon),
		Brand:        tags["brand"],
		Operator:     tags["operator"],
		Wikipedia:    tags["wikipedia"],
		Wikidata:     tags["wikidata"],
		Tags:         tags,
	}
	// Price information is only meaningful for lodging.
	if category == "camping_hotels" {
		c.PriceRange = extractPriceRange(tags)
	}
	return c
}

func mapsLink(lat, lon float64) string {
	return "https://www.google.com/maps?q=" +
		strconv.FormatFloat(lat, 'f', -1, 64) + "," +
		strconv.FormatFloat(lon, 'f', -1, 64)
}

var (
	currencyRe = regexp.MustCompile(`[€$£¥]`)
	numberRe   = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// extractPriceRange derives a short price label for lodging from common OSM
// price tags: per-unit fees first, then explicit price/fee/charge values,
// then type- and stars-based indicators.
func extractPriceRange(tags map[string]string) string {
	var perUnit []string
	for _, u := range []struct{ suffix, label string }{
		{"per_person", "per person"},
		{"per_night", "per night"},
		{"per_tent", "per tent"},
		{"per_car", "per car"},
	} {
		for _, prefix := range []string{"fee:", "charge:", "price:"} {
			v, ok := tags[prefix+u.suffix]
			if !ok {
				continue
			}
			cur, nums := currencyAndAmounts(v)
			if len(nums) > 0 {
				perUnit = append(perUnit, formatPrice(nums[0], cur, u.label))
				break
			}
		}
	}
	if len(perUnit) > 0 {
		return strings.Join(perUnit, ", ")
	}

	tourism := strings.ToLower(tags["tourism"])
	if price := firstTag(tags, "price", "fee", "charge"); price != "" {
		lower := strings.ToLower(strings.TrimSpace(price))
		switch lower {
		case "no", "free", "gratis", "0":
			return "Free"
		case "yes":
			// handled below as a plain fee indicator
		default:
			cur, nums := currencyAndAmounts(price)
			if strings.Contains(price, "-") && len(nums) >= 2 {
				return cur + nums[0] + "-" + nums[1]
			}
			if len(nums) >= 1 {
				unit := ""
				switch tourism {
				case "hotel", "hostel", "guest_house", "motel", "camp_site", "camping":
					unit = "per night"
				}
				return formatPrice(nums[0], cur, unit)
			}
			return price
		}
	}

	if pr := firstTag(tags, "price_range", "price:range"); pr != "" {
		unit := "per night"
		if tourism == "camp_site" || tourism == "camping" {
			unit = "per tent"
		}
		cur, nums := currencyAndAmounts(pr)
		if len(nums) >= 2 {
			return fmt.Sprintf("%s%s-%s %s", cur, nums[0], nums[1], unit)
		}
		if len(nums) == 1 {
			return formatPrice(nums[0], cur, unit)
		}
		return pr
	}

	if stars, err := strconv.ParseFloat(tags["stars"], 64); err == nil {
		switch {
		case stars >= 4:
			return "Expensive"
		case stars >= 3:
			return "Mid-range"
		case stars >= 1:
			return "Budget"
		}
	}

	switch tourism {
	case "hostel":
		return "Budget"
	case "motel":
		return "Mid-range"
	}

	switch strings.ToLower(tags["fee"]) {
	case "no", "free", "gratis":
		return "Free"
	case "yes":
		return "Fee required"
	}
	return ""
}

func firstTag(tags map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := tags[k]; v != "" {
			return v
		}
	}
	return ""
}

func currencyAndAmounts(s string) (string, []string) {
	cur := currencyRe.FindString(s)
	if cur == "" {
		cur = "€"
	}
	return cur, numberRe.FindAllString(s, -1)
}

func formatPrice(amount, currency, unit string) string {
	if !strings.Contains(amount, ".") {
		if n, err := strconv.Atoi(amount); err == nil {
			amount = strconv.Itoa(n)
		}
	}
	if unit != "" {
		return currency + amount + " " + unit
	}
	return currency + amount
}
