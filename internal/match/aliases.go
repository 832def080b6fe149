package match

// DefaultAliases lists official native-script names and the romanized forms
// people type when adding them to a roster.
var DefaultAliases = AliasTable{
	// hololive JP
	"ときのそら":   {"tokino sora", "sora"},
	"ロボ子さん":   {"roboco"},
	"さくらみこ":   {"sakura miko", "miko"},
	"星街すいせい":  {"hoshimachi suisei", "suisei"},
	"AZKi":    {"azki"},
	"夜空メル":    {"yozora mel", "mel"},
	"白上フブキ":   {"shirakami fubuki", "fubuki"},
	"夏色まつり":   {"natsuiro matsuri", "matsuri"},
	"赤井はあと":   {"akai haato", "haato", "haachama"},
	"アキ・ローゼンタール": {"aki rosenthal", "akirose"},
	"湊あくあ":    {"minato aqua", "aqua"},
	"紫咲シオン":   {"murasaki shion", "shion"},
	"百鬼あやめ":   {"nakiri ayame", "ayame"},
	"癒月ちょこ":   {"yuzuki choco", "choco"},
	"大空スバル":   {"oozora subaru", "subaru"},
	"大神ミオ":    {"okami mio", "mio"},
	"猫又おかゆ":   {"nekomata okayu", "okayu"},
	"戌神ころね":   {"inugami korone", "korone"},
	"兎田ぺこら":   {"usada pekora", "pekora", "peko"},
	"不知火フレア":  {"shiranui flare", "flare"},
	"白銀ノエル":   {"shirogane noel", "noel"},
	"宝鐘マリン":   {"houshou marine", "marine"},
	"天音かなた":   {"amane kanata", "kanata"},
	"角巻わため":   {"tsunomaki watame", "watame"},
	"常闇トワ":    {"tokoyami towa", "towa"},
	"姫森ルーナ":   {"himemori luna", "luna"},
	"雪花ラミィ":   {"yukihana lamy", "lamy"},
	"桃鈴ねね":    {"momosuzu nene", "nene"},
	"獅白ぼたん":   {"shishiro botan", "botan"},
	"尾丸ポルカ":   {"omaru polka", "polka"},
	"ラプラス・ダークネス": {"laplus darkness", "laplus"},
	"鷹嶺ルイ":    {"takane lui", "lui"},
	"博衣こより":   {"hakui koyori", "koyori"},
	"沙花叉クロヱ":  {"sakamata chloe", "chloe"},
	"風真いろは":   {"kazama iroha", "iroha"},
	"火威青":     {"hiodoshi ao", "ao"},
	"音乃瀬奏":    {"otonose kanade", "kanade"},
	"一条莉々華":   {"ichijou ririka", "ririka"},
	"儒烏風亭らでん": {"juufuutei raden", "raden"},
	"轟はじめ":    {"todoroki hajime", "hajime"},

	// hololive EN names are already romanized but the official page sometimes
	// uses katakana.
	"がうる・ぐら":  {"gawr gura", "gura"},
	"森カリオペ":   {"mori calliope", "calli"},
	"小鳥遊キアラ":  {"takanashi kiara", "kiara"},
	"一伊那尓栖":   {"ninomae ina'nis", "ina"},
	"ワトソン・アメリア": {"watson amelia", "amelia", "ame"},

	// NIJISANJI
	"月ノ美兎":    {"tsukino mito", "mito"},
	"樋口楓":     {"higuchi kaede", "kaede"},
	"静凛":      {"shizuka rin", "rin"},
	"剣持刀也":    {"kenmochi toya", "kenmochi"},
	"葛葉":      {"kuzuha"},
	"叶":       {"kanae"},
	"笹木咲":     {"sasaki saku", "saku"},
	"本間ひまわり":  {"honma himawari", "himawari"},
	"椎名唯華":    {"shiina yuika", "shiina"},
	"リゼ・ヘルエスタ": {"lize helesta", "lize"},
	"戌亥とこ":    {"inui toko", "toko"},
	"アンジュ・カトリーナ": {"ange katrina", "ange"},
	"壱百満天原サロメ": {"hyakumantenbara salome", "salome"},
	"不破湊":     {"fuwa minato", "fuwa"},
	"ローレン・イロアス": {"lauren iroas", "lauren"},
	"星川サラ":    {"hoshikawa sara", "sara"},
	"周央サンゴ":   {"suo sango", "sango"},
	"でびでび・でびる": {"debidebi debiru", "debiru"},
	"えま★おうがすと": {"emma august", "emma"},
	"社築":      {"yashiro kizuku", "yashiro"},
}
