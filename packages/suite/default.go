package suite

// DefaultYAML is the built-in regression suite for the sunnah.com hadith
// API. It walks collections, their books, chapters and hadiths, and
// looks hadiths up by URN.
const DefaultYAML = `name: sunnah
description: Regression suite for the sunnah.com hadith API
endpoints:
  - name: collections
    path: collections
    paginated: true
    tags: [collections]
    children:
      - each: data
        value: name
        as: collection
        sample: -1
        capture:
          hasBooks: hasBooks
          hasChapters: hasChapters
        endpoints:
          - name: collection
            path: collections/{{collection}}
            tags: [collections]
          - name: books
            path: collections/{{collection}}/books
            paginated: true
            when: hasBooks
            tags: [books]
            children:
              - each: data
                value: bookNumber
                as: book
                endpoints:
                  - name: book
                    path: collections/{{collection}}/books/{{book}}
                    tags: [books]
                  - name: chapters
                    path: collections/{{collection}}/books/{{book}}/chapters
                    paginated: true
                    when: hasChapters
                    tags: [chapters]
                    children:
                      - each: data
                        value: chapterId
                        as: chapter
                        endpoints:
                          - name: chapter
                            path: collections/{{collection}}/books/{{book}}/chapters/{{chapter}}
                            tags: [chapters]
                  - name: hadiths
                    path: collections/{{collection}}/books/{{book}}/hadiths
                    paginated: true
                    tags: [hadiths]
                    children:
                      - each: data
                        value: hadithNumber
                        as: hadith
                        endpoints:
                          - name: hadith
                            path: collections/{{collection}}/hadiths/{{hadith}}
                            tags: [hadiths]
                            children:
                              - each: hadith
                                value: urn
                                as: urn
                                endpoints:
                                  - name: hadith-by-urn
                                    path: hadiths/{{urn}}
                                    tags: [hadiths, urn]
  - name: random-hadith
    path: hadiths/random
    compare: status
    repeat: 3
    tags: [hadiths, random]
`

// Default returns a fresh copy of the built-in suite.
func Default() *Suite {
	s, err := Parse([]byte(DefaultYAML))
	if err != nil {
		panic("suite: invalid built-in suite: " + err.Error())
	}
	return s
}
