// Package mapping normalises bookmaker market catalogues into the canonical
// taxonomy. The taxonomy is Betpawa's: its market ids are used unchanged and
// competitor catalogues are mapped into it through static tables.
package mapping

import (
	"strings"

	"github.com/yourusername/oddsradar/internal/models"
)

// TablesVersion identifies the mapping rule set. Bump when rules change so
// mismatched observations can be traced to the table revision.
const TablesVersion = "2024-07"

// Canonical market ids (Betpawa taxonomy).
const (
	Market1X2       = "1X2"       // full-time result
	MarketDC        = "DC"        // double chance
	MarketDNB       = "DNB"       // draw no bet
	MarketOU        = "OU"        // over/under total goals (lined)
	MarketBTTS      = "BTTS"      // both teams to score
	MarketHND       = "HND"       // asian-style handicap (lined)
	MarketOddEven   = "ODD_EVEN"  // total goals parity
	Market1X2HT     = "1X2_HT"    // half-time result
	MarketOUHT      = "OU_HT"     // first-half total goals (lined)
	MarketCornersOU = "CORN_OU"   // corners over/under (lined)
	MarketCardsOU   = "CARDS_OU"  // bookings over/under (lined)
	MarketResultOU  = "1X2_OU"    // combo: double chance & total (lined)
	MarketResultGG  = "1X2_BTTS"  // combo: double chance & both teams to score
	MarketHTFT      = "HT_FT"     // half-time / full-time
)

// MarketDef describes one canonical market: display metadata, category
// tags, the canonical outcome shape and the alias table that maps
// bookmaker-native labels onto it.
type MarketDef struct {
	CanonicalID  string
	DisplayName  string
	Categories   []models.Category
	RequiresLine bool

	// OutcomeOrder is the canonical outcome sequence. For combo markets it
	// is empty and the shape is the cross product ComboFirst x ComboSecond.
	OutcomeOrder []string
	Aliases      map[string]string

	// Combo markets pair two component outcomes, e.g. "1X - Under".
	Combo         bool
	ComboFirst    []string
	ComboSecond   []string
	FirstAliases  map[string]string
	SecondAliases map[string]string
}

// Tables is the static, versioned mapping configuration.
type Tables struct {
	version string
	defs    map[string]*MarketDef
	// competitor bookmaker-native market id -> canonical id
	competitorIDs map[models.Bookmaker]map[string]string
}

// resultAliases maps native full/half-time result labels to 1/X/2.
var resultAliases = map[string]string{
	"1": "1", "home": "1", "home win": "1", "1 (home)": "1",
	"x": "X", "draw": "X", "tie": "X",
	"2": "2", "away": "2", "away win": "2", "2 (away)": "2",
}

// totalAliases maps native over/under labels.
var totalAliases = map[string]string{
	"over": "Over", "o": "Over", "total over": "Over", "more": "Over",
	"under": "Under", "u": "Under", "total under": "Under", "less": "Under",
}

// yesNoAliases maps native both-teams-to-score labels.
var yesNoAliases = map[string]string{
	"yes": "Yes", "gg": "Yes", "both": "Yes", "goal goal": "Yes",
	"no": "No", "ng": "No", "no goal": "No",
}

// doubleChanceAliases maps native double-chance labels.
var doubleChanceAliases = map[string]string{
	"1x": "1X", "home or draw": "1X", "1 or x": "1X",
	"12": "12", "home or away": "12", "1 or 2": "12",
	"x2": "X2", "draw or away": "X2", "x or 2": "X2",
}

// twoWayAliases maps native home/away labels for two-outcome markets.
var twoWayAliases = map[string]string{
	"1": "1", "home": "1",
	"2": "2", "away": "2",
}

// oddEvenAliases maps native parity labels.
var oddEvenAliases = map[string]string{
	"odd": "Odd", "even": "Even",
}

// htftAliases maps native half-time/full-time pair labels. Native feeds use
// "1/1", "1/X" style; some use "home/draw".
var htftAliases = map[string]string{
	"1/1": "1/1", "1/x": "1/X", "1/2": "1/2",
	"x/1": "X/1", "x/x": "X/X", "x/2": "X/2",
	"2/1": "2/1", "2/x": "2/X", "2/2": "2/2",
	"home/home": "1/1", "home/draw": "1/X", "home/away": "1/2",
	"draw/home": "X/1", "draw/draw": "X/X", "draw/away": "X/2",
	"away/home": "2/1", "away/draw": "2/X", "away/away": "2/2",
}

// NewTables builds the static rule set.
func NewTables() *Tables {
	defs := map[string]*MarketDef{
		Market1X2: {
			CanonicalID:  Market1X2,
			DisplayName:  "Match Result",
			Categories:   []models.Category{models.CategoryPopular},
			OutcomeOrder: []string{"1", "X", "2"},
			Aliases:      resultAliases,
		},
		MarketDC: {
			CanonicalID:  MarketDC,
			DisplayName:  "Double Chance",
			Categories:   []models.Category{models.CategoryPopular},
			OutcomeOrder: []string{"1X", "12", "X2"},
			Aliases:      doubleChanceAliases,
		},
		MarketDNB: {
			CanonicalID:  MarketDNB,
			DisplayName:  "Draw No Bet",
			Categories:   []models.Category{models.CategoryPopular, models.CategoryHandicaps},
			OutcomeOrder: []string{"1", "2"},
			Aliases:      twoWayAliases,
		},
		MarketOU: {
			CanonicalID:  MarketOU,
			DisplayName:  "Total Goals Over/Under",
			Categories:   []models.Category{models.CategoryPopular, models.CategoryGoals},
			RequiresLine: true,
			OutcomeOrder: []string{"Over", "Under"},
			Aliases:      totalAliases,
		},
		MarketBTTS: {
			CanonicalID:  MarketBTTS,
			DisplayName:  "Both Teams To Score",
			Categories:   []models.Category{models.CategoryPopular, models.CategoryGoals},
			OutcomeOrder: []string{"Yes", "No"},
			Aliases:      yesNoAliases,
		},
		MarketHND: {
			CanonicalID:  MarketHND,
			DisplayName:  "Handicap",
			Categories:   []models.Category{models.CategoryHandicaps},
			RequiresLine: true,
			OutcomeOrder: []string{"1", "2"},
			Aliases:      twoWayAliases,
		},
		MarketOddEven: {
			CanonicalID:  MarketOddEven,
			DisplayName:  "Total Goals Odd/Even",
			Categories:   []models.Category{models.CategoryGoals, models.CategorySpecials},
			OutcomeOrder: []string{"Odd", "Even"},
			Aliases:      oddEvenAliases,
		},
		Market1X2HT: {
			CanonicalID:  Market1X2HT,
			DisplayName:  "Half-Time Result",
			Categories:   []models.Category{models.CategoryHalves},
			OutcomeOrder: []string{"1", "X", "2"},
			Aliases:      resultAliases,
		},
		MarketOUHT: {
			CanonicalID:  MarketOUHT,
			DisplayName:  "First Half Over/Under",
			Categories:   []models.Category{models.CategoryHalves, models.CategoryGoals},
			RequiresLine: true,
			OutcomeOrder: []string{"Over", "Under"},
			Aliases:      totalAliases,
		},
		MarketCornersOU: {
			CanonicalID:  MarketCornersOU,
			DisplayName:  "Corners Over/Under",
			Categories:   []models.Category{models.CategoryCorners},
			RequiresLine: true,
			OutcomeOrder: []string{"Over", "Under"},
			Aliases:      totalAliases,
		},
		MarketCardsOU: {
			CanonicalID:  MarketCardsOU,
			DisplayName:  "Cards Over/Under",
			Categories:   []models.Category{models.CategoryCards},
			RequiresLine: true,
			OutcomeOrder: []string{"Over", "Under"},
			Aliases:      totalAliases,
		},
		MarketResultOU: {
			CanonicalID:   MarketResultOU,
			DisplayName:   "Double Chance & Total Goals",
			Categories:    []models.Category{models.CategoryCombos, models.CategoryGoals},
			RequiresLine:  true,
			Combo:         true,
			ComboFirst:    []string{"1X", "12", "X2"},
			ComboSecond:   []string{"Over", "Under"},
			FirstAliases:  doubleChanceAliases,
			SecondAliases: totalAliases,
		},
		MarketResultGG: {
			CanonicalID:   MarketResultGG,
			DisplayName:   "Double Chance & Both Teams To Score",
			Categories:    []models.Category{models.CategoryCombos, models.CategoryGoals},
			Combo:         true,
			ComboFirst:    []string{"1X", "12", "X2"},
			ComboSecond:   []string{"Yes", "No"},
			FirstAliases:  doubleChanceAliases,
			SecondAliases: yesNoAliases,
		},
		MarketHTFT: {
			CanonicalID: MarketHTFT,
			DisplayName: "Half-Time / Full-Time",
			Categories:  []models.Category{models.CategoryHalves, models.CategorySpecials},
			OutcomeOrder: []string{
				"1/1", "1/X", "1/2", "X/1", "X/X", "X/2", "2/1", "2/X", "2/2",
			},
			Aliases: htftAliases,
		},
	}

	// SportyBet runs a Betradar-style numeric market catalogue.
	sportyBetIDs := map[string]string{
		"1":   Market1X2,
		"10":  MarketDC,
		"11":  MarketDNB,
		"18":  MarketOU,
		"29":  MarketBTTS,
		"16":  MarketHND,
		"26":  MarketOddEven,
		"60":  Market1X2HT,
		"68":  MarketOUHT,
		"166": MarketCornersOU,
		"139": MarketCardsOU,
		"37":  MarketResultOU,
		"36":  MarketResultGG,
		"47":  MarketHTFT,
	}

	// Bet9ja uses prefixed symbolic market codes.
	bet9jaIDs := map[string]string{
		"S_1X2":    Market1X2,
		"S_DC":     MarketDC,
		"S_DNB":    MarketDNB,
		"S_OU":     MarketOU,
		"S_GGNG":   MarketBTTS,
		"S_AH":     MarketHND,
		"S_OE":     MarketOddEven,
		"S_HT1X2":  Market1X2HT,
		"S_HTOU":   MarketOUHT,
		"S_CORNOU": MarketCornersOU,
		"S_CARDOU": MarketCardsOU,
		"S_DCOU":   MarketResultOU,
		"S_DCGG":   MarketResultGG,
		"S_HTFT":   MarketHTFT,
	}

	return &Tables{
		version: TablesVersion,
		defs:    defs,
		competitorIDs: map[models.Bookmaker]map[string]string{
			models.BookmakerSportyBet: sportyBetIDs,
			models.BookmakerBet9ja:    bet9jaIDs,
		},
	}
}

// Version returns the rule set revision.
func (t *Tables) Version() string {
	return t.version
}

// ResolveCanonicalID maps a bookmaker-native market id to the canonical id.
// Betpawa ids are canonical already; they only need to exist in the
// taxonomy. Returns "" when no mapping exists.
func (t *Tables) ResolveCanonicalID(bookmaker models.Bookmaker, nativeID string) string {
	if bookmaker.IsCanonical() {
		if _, ok := t.defs[nativeID]; ok {
			return nativeID
		}
		return ""
	}
	ids, ok := t.competitorIDs[bookmaker]
	if !ok {
		return ""
	}
	return ids[nativeID]
}

// Definition returns the canonical market definition, or nil.
func (t *Tables) Definition(canonicalID string) *MarketDef {
	return t.defs[canonicalID]
}

// RequiresLine reports whether the canonical market's identity includes a
// numeric line parameter.
func (t *Tables) RequiresLine(canonicalID string) bool {
	def := t.defs[canonicalID]
	return def != nil && def.RequiresLine
}

// Categories returns the category tag set for a canonical market. Unknown
// markets default to {Other}.
func (t *Tables) Categories(canonicalID string) []models.Category {
	if def := t.defs[canonicalID]; def != nil && len(def.Categories) > 0 {
		return def.Categories
	}
	return []models.Category{models.CategoryOther}
}

// comboSeparator is the single separator form native labels are collapsed
// to before alias lookup. Bookmakers disagree: Betpawa writes "1X - Under",
// SportyBet writes "1X & Under".
const comboSeparator = " - "

// NormaliseLabel collapses the common separator conventions and whitespace
// so the two native spellings of a combo outcome compare equal.
func NormaliseLabel(label string) string {
	s := strings.TrimSpace(strings.ToLower(label))
	s = strings.ReplaceAll(s, " & ", comboSeparator)
	s = strings.ReplaceAll(s, "&", comboSeparator)
	s = strings.Join(strings.Fields(s), " ")
	// Re-collapse any doubled separators the & replacement produced.
	for strings.Contains(s, "-  -") || strings.Contains(s, "- -") {
		s = strings.ReplaceAll(s, "-  -", "-")
		s = strings.ReplaceAll(s, "- -", "-")
	}
	return s
}

// ResolveOutcome maps a bookmaker-native outcome label to its canonical
// label and position within the canonical order. ok is false when the
// label cannot be placed.
func (d *MarketDef) ResolveOutcome(label string) (canonical string, position int, ok bool) {
	norm := NormaliseLabel(label)

	if d.Combo {
		parts := strings.SplitN(norm, "-", 2)
		if len(parts) != 2 {
			return "", 0, false
		}
		first, okF := d.FirstAliases[strings.TrimSpace(parts[0])]
		second, okS := d.SecondAliases[strings.TrimSpace(parts[1])]
		if !okF || !okS {
			return "", 0, false
		}
		fi := indexOf(d.ComboFirst, first)
		si := indexOf(d.ComboSecond, second)
		if fi < 0 || si < 0 {
			return "", 0, false
		}
		return first + comboSeparator + second, fi*len(d.ComboSecond) + si, true
	}

	canonical, ok = d.Aliases[norm]
	if !ok {
		return "", 0, false
	}
	position = indexOf(d.OutcomeOrder, canonical)
	if position < 0 {
		return "", 0, false
	}
	return canonical, position, true
}

// ShapeSize returns the number of outcomes the canonical shape expects.
func (d *MarketDef) ShapeSize() int {
	if d.Combo {
		return len(d.ComboFirst) * len(d.ComboSecond)
	}
	return len(d.OutcomeOrder)
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}
