package signaling

var adjectives = []string{
	"amber", "brisk", "cosmic", "dusty", "electric", "fuzzy", "gentle", "hollow", "icy", "jolly",
	"lunar", "mellow", "nimble", "opal", "plucky", "quiet", "rusty", "silver", "tidy", "velvet",
	"wild", "zesty", "breezy", "crimson", "dapper", "golden", "hazy", "misty", "sunny", "witty",
}

var creatures = []string{
	"otter", "heron", "badger", "lynx", "moth", "newt", "owl", "puffin", "quokka", "raven",
	"seal", "tapir", "urchin", "vole", "walrus", "yak", "zebra", "bison", "crane", "dingo",
	"egret", "ferret", "gecko", "ibis", "jackal", "koi", "lemur", "marmot", "ocelot", "wren",
}

var objects = []string{
	"lantern", "anvil", "banjo", "compass", "drum", "easel", "flute", "gong", "harp", "kettle",
	"lute", "mandolin", "oboe", "piano", "quill", "radio", "sitar", "tuba", "ukulele", "violin",
	"whistle", "xylophone", "bell", "cello", "fiddle", "horn", "organ", "cymbal", "bugle", "kazoo",
}

var places = []string{
	"harbor", "meadow", "canyon", "grove", "summit", "lagoon", "prairie", "tundra", "valley", "island",
	"orchard", "garden", "attic", "cellar", "station", "tower", "bridge", "market", "studio", "library",
}
