package classify

import "sync"

// builtinRules is the pattern table shipped with the analyzer. Patterns are
// matched against the lowercased item name. Order matters: Garden & Plants
// runs before wine so that "moosrose" never hits the "rose" wine rule.
var builtinRules = RuleSet{
	{Category: "Garden & Plants", Rules: []string{
		`rosen\b|rose\b|pflanze|blume|tulpe|nelke|chrysantheme`,
		`moos.*rose|stauden|gewaechs|gewächs|topf.*pflanzen`,
		`samen|saat|blumen.*erde|pflanzen.*erde`,
	}},

	{Category: "Beverages - Wine", Rules: []string{
		`\bwein\b|rotwein|weisswein|weißwein|rosewein|\brosé\b|\brosè\b`,
		`sekt\b|prosecco|champagner|cava\b`,
		`portwein|\bport\swein|dessertwein|eiswein|perlwein`,
		`rotling|hausschopp|spätlese|spaetlese|auslese|kabinett`,
		`\bblut\b`,
		`riesling|silvaner|rivaner|dornfelder|chardonnay|merlot|cabernet`,
		`spätburg|spaetburg|grauburg|pinot\s|pinot\b`,
		`sauvignon|traminer|regent\b|auxerrois|kerner|bacchus|elbling|lemberger|trollinger`,
		`primitivo|tempranillo|sangiovese`,
		`domina\b`,
		`asth\.scheu|auxe\.rrois|mueller.*thurg|müller.*thurg`,
		`\bscheu\s|scheu\.|scheu\b`,
		`augustiner.*silv|aug\..*silv`,
		`doppas`,
		`barrique|cuvee|cuvée|trocken.*l\b|halbtrocken.*l\b`,
		`\blabel\s|\slabel\b|\.label`,
		`mosel.*wein|pfalz.*wein|rheingau.*wein`,
	}},
	{Category: "Beverages - Beer", Rules: []string{
		`bier|pils|weizen|loesch|lösch|export|alkoholfrei.*bier`,
		`hefeweizen|hefeweiss|weissbier|weißbier`,
		`\bhell\b`,
		`radl|radler|rad\.`,
		`zwerg\s+rad`,
		`benediktiner|bened\.`,
		`gösser|goess|goell`,
		`franziskaner.*weiss`,
	}},
	{Category: "Beverages - Soft Drinks", Rules: []string{
		`cola|limo|sprite|fanta|energy|limonade|mate|eistee`,
		`saft|schorle|nektar|fruchtsaft|multi|vitamin|trauben.*saft`,
		`tonic|bitter\s*lemon`,
		`zitr|zitrone`,
		`schweppes|schw\.`,
	}},
	{Category: "Beverages - Water", Rules: []string{
		`wasser|miwa|rhoen|rhön|mineral|naturtr|dest\.wasser|moen|medium|still|sprudel`,
		`gerolstein|volvic|vittel|evian|alasia`,
	}},
	{Category: "Beverages - Other", Rules: []string{
		`getraenk|getränk`,
	}},

	{Category: "Coffee & Tea - Coffee", Rules: []string{
		`kaffee|cafe|café|caffe|espresso|cappuccino|latte|mokka|moevenpick|mövenpick`,
		`bohnen.*kaffee|kaffee.*bohnen|kaffeepulver|instant.*kaffee`,
		`lavaz|dallmayr|dalmayer|jacobs|tchibo|paulig|illycaffé|illy\b`,
		`prodomo|prodor|crema\s*crema|quali.*rossa`,
	}},
	{Category: "Coffee & Tea - Tea", Rules: []string{
		`tee|earl.*grey|rooibos|kamille|pfefferminz|gruener.*tee|grüner.*tee`,
		`schwarztee|kraeuter.*tee|kräuter.*tee`,
	}},

	{Category: "Fruit & Vegetables - Fruit", Rules: []string{
		`\borangen?\b|\baepfel\b|\bäpfel\b|\bapfel\b|\bbirnen?\b|\bbananen?\b`,
		`\btrauben?\b|\bweintrauben?\b|\bbrombeeren?\b|\bhimbeeren?\b|\berdbeeren?\b|\bbeeren?\b`,
		`\bkirschen?\b|\bpflaumen?\b|\bpfirsiche?\b|\baprikosen?\b`,
		`\bzitronen?\b|\bmandarinen?\b|\bclementinen?\b|\bkiwis?\b|\bmango`,
		`obst\b|frucht\b|bio.*obst`,
	}},
	{Category: "Fruit & Vegetables - Vegetables", Rules: []string{
		`moehren|möhren|zwiebeln?|salat|gurken?|paprika|champignons?`,
		`kraeuter|kräuter|kartoffeln?|karotten|zucchini|aubergine`,
		`tomat|rispen|cherry|strauch|fleisch.*tomat|roma.*tomat`,
		`brokkoli|blumenkohl|rosenkohl|spinat|mangold|porree|lauch`,
		`gemuese|gemüse\b|bio.*gemuese|bio.*gemüse`,
	}},
	{Category: "Fruit & Vegetables - Other", Rules: []string{
		// "frisch" on its own is too unspecific.
		`bio\s+frisch|regional\s+frisch`,
	}},

	{Category: "Dairy - Milk", Rules: []string{
		`\bmilch\b|vollmilch|fettarm.*milch|h-milch|frisch.*milch`,
	}},
	{Category: "Dairy - Yogurt & Quark", Rules: []string{
		`joghurt|jogurt|jog\.halbfett|quark|skyr`,
	}},
	{Category: "Dairy - Cheese", Rules: []string{
		`kaese|käse|mozzarella|feta|gouda|emmentaler|camembert|frischkaese|frischkäse`,
		`scheiben.*kaese|scheiben.*käse|reibekaese|reibekäse`,
		`maasdamer|maasdam|edamer|tilsiter|appenzeller`,
	}},
	{Category: "Dairy - Butter & Cream", Rules: []string{
		`butter|sahne|creme|schmand|créme`,
	}},

	{Category: "Meat & Sausage - Meat", Rules: []string{
		`fleisch|steak|schnitzel|braten|filet|hackfleisch|hack\.?fleisch`,
		`geflügel|hähnchen|huhn|pute|rind|schwein|lamm`,
	}},
	{Category: "Meat & Sausage - Sausage", Rules: []string{
		`wurst|schinken|salami|leberwurst|mortadella|lyoner`,
		`kabanossi|kabanos`,
		`jausenstangerl|jausenwurst`,
	}},

	{Category: "Bread & Bakery - Bread", Rules: []string{
		`\bbrot\b|vollkorn.*brot|weizen.*brot|roggen.*brot|toast|baguette`,
	}},
	{Category: "Bread & Bakery - Rolls", Rules: []string{
		`broetchen|brötchen|semmel|schrippe|weck`,
	}},
	{Category: "Bread & Bakery - Cakes", Rules: []string{
		`kuchen|torte|croissant|plaetzchen|plätzchen|keks`,
	}},

	{Category: "Frozen - Ready Meals", Rules: []string{
		`pizza.*tk|tk.*pizza|lasagne.*tk|tk.*lasagne`,
	}},
	{Category: "Frozen - Vegetables", Rules: []string{
		`tk.*gemuese|tk.*gemüse|tiefk.*gemuese|tiefk.*gemüse`,
	}},
	{Category: "Frozen - Other", Rules: []string{
		`pomm|frites|tiefk|tk-|tk\s|gefroren|eis\s`,
		`mccain`,
	}},

	{Category: "Household & Cleaning - Cleaning", Rules: []string{
		`reiniger|topfreiniger|spuelmittel|spülmittel|waschmittel`,
		`klarspueler|klarspül|geschirr.*tab|geschirr.*pulv|schwamm|tuecher|tücher`,
		`softlan|persil|ariel|fairy|meister|domestos|cillit`,
	}},
	{Category: "Household & Cleaning - Paper", Rules: []string{
		`papier|rolle|kuechen.*rolle|küchen.*rolle|toiletten.*papier|klopapier`,
		`taschentuecher|taschentücher|serviette`,
	}},
	{Category: "Household & Cleaning - Other", Rules: []string{
		`auftausalz|backpapier|alufolie|frischhalte`,
		`co2\s*zylinder|co2.*patrone|filterkartu`,
	}},

	{Category: "Personal Care", Rules: []string{
		`wellaflex|wella\b|head.*shoulders|pantene|garnier|schwarzkopf`,
		`frankens|nivea|beiersdorf|sebapharma`,
		`haarspr|haarspray|shampoo|conditioner|schaum.*haar|haar.*schaum`,
		`duschgel|badewann|körperlotion|handcreme`,
		`zahnpasta|zahnbuerste|zahnbürste|mundspulung|mundspülung`,
		`parfüm|parfum|parfuem|cologne|eau\s+de`,
		`rasier|rasierer|rasierklinge`,
		`deodorant|deo\b`,
	}},

	{Category: "Pasta & Noodles", Rules: []string{
		`fusilli|penne|spaghetti|linguini|farfalle|rigatoni|girandole|tagliatelle`,
		`nudel|pasta\b|makkaroni|lasagne.*blätter|lasagne.*blatter`,
		`barilla|de\s*cecco|rana|müller.*ecke`,
	}},

	{Category: "Kitchen & Cooking", Rules: []string{
		`oel\b|öl\b|olivenöl|olivenoel|sonnenbl.*oel|sonnenbl.*öl|rapsöl|rapsoel`,
		`gewürz|salz\b|pfeffer\b|paprika.*gewürz|curry|oregano|basilikum`,
		`ketchup|senf\b|mayonnaise|mayo\b|essig\b`,
		`mehl\b|zucker\b|vanille|backpulver|hefe\b`,
		`sosse|sauce\b|tomatensauce|passierte.*tom|tom.*passierten`,
	}},

	{Category: "Canned & Preserved", Rules: []string{
		`mais|konserve|dose|büchse|eingel|glas\b`,
	}},

	{Category: CategoryOther, Rules: nil},
}

var (
	builtinOnce  sync.Once
	builtinTable *Table
)

// Builtin returns the shared built-in pattern table. It applies the
// spirit/vinegar filter before the regular first-match pass.
func Builtin() *Table {
	builtinOnce.Do(func() {
		categories := make([]Category, 0, len(builtinRules))
		for _, cr := range builtinRules {
			c := Category{Label: cr.Category}
			for _, p := range cr.Rules {
				c.Matchers = append(c.Matchers, mustPattern(p))
			}
			categories = append(categories, c)
		}
		builtinTable = NewTable(categories)
		builtinTable.barSpirits = true
	})
	return builtinTable
}

// BuiltinRules returns a copy of the built-in pattern document.
func BuiltinRules() RuleSet {
	return builtinRules.Clone()
}

// BuiltinCategories returns the built-in category labels as a keyword document
// with empty rule lists. It is the editable starting point while no custom
// rules are active: the built-in patterns are regular expressions and would not
// match anything once saved back as substring keywords.
func BuiltinCategories() RuleSet {
	out := make(RuleSet, len(builtinRules))
	for i, cr := range builtinRules {
		out[i] = CategoryRules{Category: cr.Category, Rules: []string{}}
	}
	return out
}
