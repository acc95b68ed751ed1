package terms

// Static vocabularies the strategies draw from. All lowercase; the
// upstream full-text match is case-insensitive.

var lastNames = []string{
	"smith", "johnson", "williams", "brown", "jones", "miller", "davis",
	"wilson", "anderson", "taylor", "thomas", "moore", "jackson", "martin",
	"lee", "thompson", "white", "harris", "clark", "lewis", "robinson",
	"walker", "young", "allen", "king", "wright", "scott", "green", "baker",
	"adams", "nelson", "hill", "campbell", "mitchell", "roberts", "carter",
	"phillips", "evans", "turner", "parker", "collins", "edwards", "stewart",
	"morris", "murphy", "cook", "rogers", "bell", "bailey", "cooper",
	"richardson", "cox", "howard", "ward", "brooks", "gray", "james",
	"watson", "sanders", "price", "bennett", "wood", "barnes", "ross",
	"henderson", "coleman", "jenkins", "perry", "powell", "long", "hughes",
	"butler", "foster", "bryant", "russell", "griffin", "hayes",
}

var firstNames = []string{
	"james", "john", "robert", "michael", "david", "william", "richard",
	"joseph", "thomas", "daniel", "mary", "patricia", "jennifer", "linda",
	"elizabeth", "barbara", "susan", "jessica", "sarah", "karen", "nancy",
	"lisa", "betty", "helen", "sandra", "donna", "carol", "ruth", "sharon",
	"emily", "laura", "anna", "paul", "mark", "george", "kenneth", "steven",
	"edward", "brian", "kevin", "ronald", "jason", "ryan", "frank", "scott",
}

// High-yield surname subsets for central Texas.
var hispanicSurnames = []string{
	"garcia", "martinez", "rodriguez", "hernandez", "lopez", "gonzalez",
	"perez", "sanchez", "ramirez", "torres", "flores", "rivera", "gomez",
	"diaz", "reyes", "morales", "cruz", "ortiz", "gutierrez", "chavez",
	"ramos", "ruiz", "mendoza", "alvarez", "castillo", "jimenez", "vasquez",
	"moreno", "herrera", "medina", "aguilar", "vargas", "guzman", "mejia",
	"salazar", "padilla", "delgado", "pena", "rios", "soto", "garza",
	"trevino", "cantu", "zapata", "rosales", "cisneros",
}

var vietnameseSurnames = []string{
	"nguyen", "tran", "pham", "hoang", "phan", "dang", "bui", "duong",
	"truong", "dinh", "luong", "trinh", "lam", "mai", "vuong",
}

var germanCzechSurnames = []string{
	"schmidt", "schneider", "fischer", "weber", "meyer", "wagner", "becker",
	"hoffman", "schultz", "zimmerman", "krause", "vogel", "koenig", "braun",
	"werner", "krueger", "novak", "svoboda", "dvorak", "cerny", "kovar",
	"hajek", "jelinek", "marek",
}

var streetNames = []string{
	"oak", "cedar", "elm", "pecan", "walnut", "willow", "maple", "pine",
	"mesquite", "juniper", "lamar", "burnet", "congress", "guadalupe",
	"duval", "manor", "springdale", "airport", "koenig", "anderson",
	"braker", "parmer", "slaughter", "stassney", "oltorf", "riverside",
	"barton", "enfield", "windsor", "exposition", "bluebonnet", "lavaca",
	"brazos", "colorado", "trinity", "neches", "sabine", "comal", "medina",
	"pedernales",
}

var streetSuffixes = []string{
	"st", "dr", "ln", "rd", "ave", "blvd", "way", "cove", "trail", "loop",
	"pass", "bend", "path", "circle", "court", "hollow", "ridge", "run",
}

var geoTerms = []string{
	"creek", "river", "lake", "hill", "valley", "canyon", "springs",
	"bluff", "mesa", "prairie", "grove", "falls", "hollow", "ridge",
	"meadow", "glen", "vista", "summit", "crossing", "landing",
}

var neighborhoods = []string{
	"allandale", "crestview", "hyde park", "tarrytown", "zilker",
	"barton hills", "travis heights", "mueller", "rosedale", "brentwood",
	"windsor park", "cherrywood", "bouldin", "clarksville", "pemberton",
	"balcones", "steiner ranch", "avery ranch", "wells branch",
	"anderson mill", "great hills", "westlake", "oak hill", "manchaca",
	"del valle", "pflugerville", "lakeway", "bee cave", "circle c",
	"river place",
}

var propertyTypes = []string{
	"residential", "commercial", "vacant", "agricultural", "industrial",
	"duplex", "condo", "townhome", "apartment", "office", "retail",
	"warehouse", "ranch", "farm",
}

var businessSuffixes = []string{
	"llc", "inc", "ltd", "corp", "company", "trust", "holdings",
	"properties", "partners", "development", "group", "ventures",
	"investments", "realty",
}

// shortWords is the favored pool: single 4-6 character words drawn from
// the name, street and geo vocabularies. Built in fixed pool order so a
// seeded generator is deterministic.
var shortWords = buildShortWords()

func buildShortWords() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, pool := range [][]string{lastNames, firstNames, hispanicSurnames, vietnameseSurnames, germanCzechSurnames, streetNames, geoTerms} {
		for _, w := range pool {
			if len(w) < 4 || len(w) > 6 {
				continue
			}
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}

// suggestionPool is scanned by the optimizer when mining pattern-based
// suggestions. Single words only.
var suggestionPool = buildSuggestionPool()

func buildSuggestionPool() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, pool := range [][]string{lastNames, hispanicSurnames, vietnameseSurnames, germanCzechSurnames, firstNames, streetNames, geoTerms} {
		for _, w := range pool {
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}
